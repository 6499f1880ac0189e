package recognition

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"streamocr-worker-go/internal/config"
)

// TesseractEngine runs Tesseract through gosseract. Engine config keys:
// "language" (e.g. "eng" or "eng+deu"), "whitelist", "psm".
type TesseractEngine struct {
	language string
}

func NewTesseractEngine(cfg *config.Config) (Engine, error) {
	lang := "eng"
	if cfg != nil && cfg.TesseractLanguage != "" {
		lang = cfg.TesseractLanguage
	}
	return &TesseractEngine{language: lang}, nil
}

func (e *TesseractEngine) Recognize(ctx context.Context, images [][]byte, opts map[string]any) ([]Result, error) {
	// gosseract clients are not safe for concurrent use; one per call
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(strings.Split(stringOption(opts, "language", e.language), "+")...); err != nil {
		return nil, fmt.Errorf("set language: %w", err)
	}
	if wl := stringOption(opts, "whitelist", ""); wl != "" {
		if err := client.SetWhitelist(wl); err != nil {
			return nil, fmt.Errorf("set whitelist: %w", err)
		}
	}
	psm := intOption(opts, "psm", int(gosseract.PSM_SINGLE_LINE))
	if err := client.SetPageSegMode(gosseract.PageSegMode(psm)); err != nil {
		return nil, fmt.Errorf("set page segmentation mode: %w", err)
	}

	results := make([]Result, 0, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := client.SetImageFromBytes(img); err != nil {
			return nil, fmt.Errorf("region %d: set image: %w", i, err)
		}
		text, err := client.Text()
		if err != nil {
			return nil, fmt.Errorf("region %d: recognize: %w", i, err)
		}
		results = append(results, Result{
			Text:       strings.TrimSpace(text),
			Confidence: wordConfidence(client),
		})
	}
	return results, nil
}

// wordConfidence averages the confidence of recognized words, 0 when none
func wordConfidence(client *gosseract.Client) float64 {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var total float64
	var words int
	for _, box := range boxes {
		if strings.TrimSpace(box.Word) == "" {
			continue
		}
		total += box.Confidence
		words++
	}
	if words == 0 {
		return 0
	}
	return total / float64(words)
}

func stringOption(opts map[string]any, key, def string) string {
	if v, ok := opts[key].(string); ok && v != "" {
		return v
	}
	return def
}

// intOption accepts JSON (float64) and YAML (int) numbers
func intOption(opts map[string]any, key string, def int) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
