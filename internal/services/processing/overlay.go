package processing

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"streamocr-worker-go/internal/helpers"
	"streamocr-worker-go/internal/models"
)

// Overlay describes what to draw on top of a rendered frame.
// With Results nil each box is labelled with its id; otherwise with the
// recognized text and confidence of that box.
type Overlay struct {
	Color   color.RGBA
	Results map[string]models.RegionResult
}

// NewOverlay builds an overlay in the given hex colour, falling back to the default green
func NewOverlay(hex string, results []models.RegionResult) *Overlay {
	o := &Overlay{Color: helpers.OverlayColorOr(hex, helpers.DefaultOverlayColor)}
	if results != nil {
		o.Results = make(map[string]models.RegionResult, len(results))
		for _, r := range results {
			o.Results[r.BoxID] = r
		}
	}
	return o
}

func (o *Overlay) Draw(img *gocv.Mat, boxes []models.RegionBox) {
	const (
		fontFace  = gocv.FontHersheySimplex
		fontScale = 0.6
		thickness = 2
	)

	for _, box := range boxes {
		rect := helpers.ClampRect(image.Rect(box.Left, box.Top, box.Left+box.Width, box.Top+box.Height), img.Cols(), img.Rows())
		if rect.Empty() {
			continue
		}
		gocv.Rectangle(img, rect, o.Color, thickness)

		label := o.label(box.ID)
		size := gocv.GetTextSize(label, fontFace, fontScale, thickness)
		y := rect.Min.Y - 5
		if y < size.Y {
			y = rect.Max.Y + size.Y + 5
		}
		gocv.PutText(img, label, image.Pt(rect.Min.X, y), fontFace, fontScale, o.Color, thickness)
	}
}

func (o *Overlay) label(boxID string) string {
	if o.Results == nil {
		return "ID: " + boxID
	}
	r, ok := o.Results[boxID]
	if !ok {
		return boxID + ": -"
	}
	return fmt.Sprintf("%s (%.0f%%)", r.Text, r.Confidence)
}
