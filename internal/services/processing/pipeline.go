package processing

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"gocv.io/x/gocv"

	"streamocr-worker-go/internal/helpers"
	"streamocr-worker-go/internal/models"
)

var (
	ErrNoValidRegions = errors.New("no valid regions")
	ErrEmptyFrame     = errors.New("frame is empty after processing")
)

// Render applies rotation, contrast/brightness and cropping to frame, in that
// order, and draws overlay if given. frame is not modified; the caller owns the result.
func Render(frame gocv.Mat, settings models.ProcessingSettings, boxes []models.RegionBox, overlay *Overlay) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.Mat{}, ErrEmptyFrame
	}

	img := frame.Clone()

	if settings.Rotation != 0 {
		rotated := rotate(img, settings.Rotation)
		img.Close()
		img = rotated
	}

	if settings.Contrast != 1.0 || settings.Brightness != 0 {
		adjusted := gocv.NewMat()
		img.ConvertToWithParams(&adjusted, gocv.MatTypeCV8U, float32(settings.Contrast), float32(settings.Brightness))
		img.Close()
		img = adjusted
	}

	cropped, err := crop(img, settings)
	img.Close()
	if err != nil {
		return gocv.Mat{}, err
	}

	if overlay != nil {
		overlay.Draw(&cropped, boxes)
	}
	return cropped, nil
}

func rotate(img gocv.Mat, degrees float64) gocv.Mat {
	center := image.Pt(img.Cols()/2, img.Rows()/2)
	m := gocv.GetRotationMatrix2D(center, degrees, 1.0)
	defer m.Close()

	out := gocv.NewMat()
	gocv.WarpAffine(img, &out, m, image.Pt(img.Cols(), img.Rows()))
	return out
}

// crop removes the configured insets, clamped so extents never go negative
func crop(img gocv.Mat, s models.ProcessingSettings) (gocv.Mat, error) {
	rows, cols := img.Rows(), img.Cols()
	top := clamp(s.CropTop, 0, rows)
	bottom := clamp(s.CropBottom, 0, rows-top)
	left := clamp(s.CropLeft, 0, cols)
	right := clamp(s.CropRight, 0, cols-left)

	rect := image.Rect(left, top, cols-right, rows-bottom)
	if rect.Empty() {
		return gocv.Mat{}, fmt.Errorf("%w: crop %dx%d from %dx%d", ErrEmptyFrame, rect.Dx(), rect.Dy(), cols, rows)
	}
	if rect == image.Rect(0, 0, cols, rows) {
		return img.Clone(), nil
	}
	region := img.Region(rect)
	defer region.Close()
	return region.Clone(), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Stitched is a composite of region crops laid out left to right.
// Widths and BoxIDs describe only the regions that produced a crop, in order.
type Stitched struct {
	Mat    gocv.Mat
	Widths []int
	BoxIDs []string
}

func (s *Stitched) Close() error {
	return s.Mat.Close()
}

// Composite crops every box from img, scales each crop to the tallest crop's
// height keeping its width, and concatenates them in box order.
func Composite(img gocv.Mat, boxes []models.RegionBox) (*Stitched, error) {
	type regionCrop struct {
		id  string
		mat gocv.Mat
	}

	var crops []regionCrop
	defer func() {
		for _, c := range crops {
			c.mat.Close()
		}
	}()

	maxHeight := 0
	for _, box := range boxes {
		if box.Width <= 0 || box.Height <= 0 {
			continue
		}
		rect := helpers.ClampRect(image.Rect(box.Left, box.Top, box.Left+box.Width, box.Top+box.Height), img.Cols(), img.Rows())
		if rect.Empty() {
			continue
		}
		region := img.Region(rect)
		crops = append(crops, regionCrop{id: box.ID, mat: region.Clone()})
		region.Close()
		maxHeight = max(maxHeight, rect.Dy())
	}
	if len(crops) == 0 {
		return nil, ErrNoValidRegions
	}

	stitched := &Stitched{Mat: gocv.NewMat()}
	for i, c := range crops {
		part := c.mat
		if part.Rows() != maxHeight {
			resized := gocv.NewMat()
			gocv.Resize(part, &resized, image.Pt(part.Cols(), maxHeight), 0, 0, gocv.InterpolationLinear)
			crops[i].mat.Close()
			crops[i].mat = resized
			part = resized
		}
		stitched.Widths = append(stitched.Widths, part.Cols())
		stitched.BoxIDs = append(stitched.BoxIDs, c.id)

		if i == 0 {
			part.CopyTo(&stitched.Mat)
			continue
		}
		joined := gocv.NewMat()
		gocv.Hconcat(stitched.Mat, part, &joined)
		stitched.Mat.Close()
		stitched.Mat = joined
	}
	return stitched, nil
}

// Split cuts a composite back into one image per width, walking left to right
func Split(stitched gocv.Mat, widths []int) ([]gocv.Mat, error) {
	if len(widths) == 0 || stitched.Empty() {
		return nil, ErrNoValidRegions
	}

	total := 0
	for _, w := range widths {
		if w <= 0 {
			return nil, fmt.Errorf("invalid region width %d", w)
		}
		total += w
	}
	if total != stitched.Cols() {
		return nil, fmt.Errorf("region widths sum to %d, composite is %d wide", total, stitched.Cols())
	}

	out := make([]gocv.Mat, 0, len(widths))
	x := 0
	for _, w := range widths {
		region := stitched.Region(image.Rect(x, 0, x+w, stitched.Rows()))
		out = append(out, region.Clone())
		region.Close()
		x += w
	}
	return out, nil
}

// Fingerprint hashes the lossless encoding of img
func Fingerprint(img gocv.Mat) (string, error) {
	data, err := helpers.EncodePNG(img)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16), nil
}

// ParseValue keeps digits and the first decimal point of text and parses the
// result. Anything unparsable is 0.
func ParseValue(text string) float64 {
	var b strings.Builder
	seenDot := false
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' && !seenDot:
			seenDot = true
			b.WriteRune(r)
		}
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0
	}
	return v
}
