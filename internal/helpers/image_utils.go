package helpers

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"gocv.io/x/gocv"
)

const (
	// JPEG quality settings
	HighQuality   = 95
	MediumQuality = 75
	LowQuality    = 50
)

// DefaultOverlayColor is used when a configured colour cannot be parsed
var DefaultOverlayColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}

// EncodeJPEG encodes a BGR Mat as JPEG at the given quality (1-100)
func EncodeJPEG(mat gocv.Mat, quality int) ([]byte, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("cannot encode empty image")
	}
	if quality <= 0 || quality > 100 {
		quality = MediumQuality
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	defer buf.Close()
	return copyBytes(buf.GetBytes()), nil
}

// EncodePNG encodes a Mat losslessly
func EncodePNG(mat gocv.Mat) ([]byte, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("cannot encode empty image")
	}
	buf, err := gocv.IMEncode(gocv.PNGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	defer buf.Close()
	return copyBytes(buf.GetBytes()), nil
}

// GetBytes aliases native memory that is released on Close
func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// ToBGR returns a 3-channel BGR copy of mat
func ToBGR(mat gocv.Mat) gocv.Mat {
	out := gocv.NewMat()
	switch mat.Channels() {
	case 4:
		gocv.CvtColor(mat, &out, gocv.ColorBGRAToBGR)
	case 1:
		gocv.CvtColor(mat, &out, gocv.ColorGrayToBGR)
	default:
		mat.CopyTo(&out)
	}
	return out
}

// ResizeToWidth downscales mat to width keeping the aspect ratio. Narrower images are copied unchanged.
func ResizeToWidth(mat gocv.Mat, width int) gocv.Mat {
	out := gocv.NewMat()
	if width <= 0 || mat.Cols() <= width {
		mat.CopyTo(&out)
		return out
	}
	height := max(1, mat.Rows()*width/mat.Cols())
	gocv.Resize(mat, &out, image.Pt(width, height), 0, 0, gocv.InterpolationArea)
	return out
}

// ParseHexColor converts a color string like "#RRGGBB" to color.RGBA
func ParseHexColor(s string) (color.RGBA, error) {
	var c color.RGBA
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return c, fmt.Errorf("invalid color length: %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return c, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// OverlayColorOr parses s and falls back to def when it is empty or malformed
func OverlayColorOr(s string, def color.RGBA) color.RGBA {
	if s == "" {
		return def
	}
	if c, err := ParseHexColor(s); err == nil {
		return c
	}
	return def
}

// ClampRect intersects r with the image bounds; the result may be empty
func ClampRect(r image.Rectangle, cols, rows int) image.Rectangle {
	return r.Intersect(image.Rect(0, 0, cols, rows))
}
