package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"streamocr-worker-go/internal/services/frames"
	"streamocr-worker-go/internal/services/processing"
	"streamocr-worker-go/internal/services/recognition"
	"streamocr-worker-go/internal/services/results"
	"streamocr-worker-go/internal/services/source"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("%w: x", source.ErrSourceNotFound), http.StatusNotFound},
		{"exists", source.ErrSourceExists, http.StatusConflict},
		{"invalid config", source.ErrInvalidConfig, http.StatusBadRequest},
		{"invalid guard input", fmt.Errorf("store result: %w", results.ErrInvalidInput), http.StatusBadRequest},
		{"no connection", fmt.Errorf("acquire frame: %w", frames.ErrNoConnection), http.StatusServiceUnavailable},
		{"acquire timeout", frames.ErrTimeout, http.StatusServiceUnavailable},
		{"no regions", processing.ErrNoValidRegions, http.StatusUnprocessableEntity},
		{"engine error", fmt.Errorf("recognize regions: %w", &recognition.Error{Engine: "tesseract", Err: errors.New("boom")}), http.StatusBadGateway},
		{"recognition timeout", recognition.ErrTimeout, http.StatusBadGateway},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.want {
				t.Errorf("StatusCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestDecodePreviewURI(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"cnRzcDovL2NhbS9zdHJlYW0", "rtsp://cam/stream", false},
		{"cnRzcDovL2NhbS9zdHJlYW0=", "rtsp://cam/stream", false},
		{"%%", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := DecodePreviewURI(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("DecodePreviewURI(%q) = %q, %v", tt.in, got, err)
		}
	}
}
