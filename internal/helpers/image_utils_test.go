package helpers

import (
	"image"
	"image/color"
	"testing"
)

func TestParseHexColor(t *testing.T) {
	cases := []struct {
		in   string
		want color.RGBA
		ok   bool
	}{
		{"#FF8000", color.RGBA{R: 255, G: 128, B: 0, A: 255}, true},
		{"00ff00", color.RGBA{G: 255, A: 255}, true},
		{" #0000FF ", color.RGBA{B: 255, A: 255}, true},
		{"#FFF", color.RGBA{}, false},
		{"#GGGGGG", color.RGBA{}, false},
	}
	for _, tc := range cases {
		got, err := ParseHexColor(tc.in)
		if (err == nil) != tc.ok {
			t.Errorf("ParseHexColor(%q) err = %v", tc.in, err)
			continue
		}
		if tc.ok && got != tc.want {
			t.Errorf("ParseHexColor(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestOverlayColorOr(t *testing.T) {
	def := color.RGBA{R: 1, A: 255}
	if got := OverlayColorOr("", def); got != def {
		t.Errorf("empty = %v", got)
	}
	if got := OverlayColorOr("nope", def); got != def {
		t.Errorf("malformed = %v", got)
	}
	if got := OverlayColorOr("#010203", def); got != (color.RGBA{R: 1, G: 2, B: 3, A: 255}) {
		t.Errorf("valid = %v", got)
	}
}

func TestClampRect(t *testing.T) {
	got := ClampRect(image.Rect(-5, -5, 50, 50), 20, 10)
	if got != image.Rect(0, 0, 20, 10) {
		t.Errorf("clamped = %v", got)
	}
	if !ClampRect(image.Rect(30, 30, 40, 40), 20, 10).Empty() {
		t.Error("expected empty rect outside bounds")
	}
}
