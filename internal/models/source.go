package models

import (
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceStatus represents the operational status of a source
type SourceStatus string

const (
	SourceStatusUnknown      SourceStatus = "UNKNOWN"
	SourceStatusOK           SourceStatus = "OK"
	SourceStatusError        SourceStatus = "ERROR"
	SourceStatusNoStream     SourceStatus = "NO_STREAM"
	SourceStatusNoConnection SourceStatus = "NO_CONNECTION"
	SourceStatusTimeout      SourceStatus = "TIMEOUT"
)

// String returns the string representation of SourceStatus
func (s SourceStatus) String() string {
	return string(s)
}

// IsValid checks if the source status is valid
func (s SourceStatus) IsValid() bool {
	switch s {
	case SourceStatusUnknown, SourceStatusOK, SourceStatusError,
		SourceStatusNoStream, SourceStatusNoConnection, SourceStatusTimeout:
		return true
	default:
		return false
	}
}

// ExecutionMode controls how OCR runs are triggered for a source
type ExecutionMode string

const (
	ExecutionModeManual ExecutionMode = "manual"
	ExecutionModeCron   ExecutionMode = "cron"
)

// ProcessingSettings holds the per-source image adjustments applied before OCR
type ProcessingSettings struct {
	Rotation   float64 `json:"rotation" yaml:"rotation"`     // Degrees, counter-clockwise about the frame center
	Contrast   float64 `json:"contrast" yaml:"contrast"`     // Multiplier (alpha)
	Brightness float64 `json:"brightness" yaml:"brightness"` // Offset (beta)
	CropTop    int     `json:"crop_top" yaml:"crop_top"`
	CropBottom int     `json:"crop_bottom" yaml:"crop_bottom"`
	CropLeft   int     `json:"crop_left" yaml:"crop_left"`
	CropRight  int     `json:"crop_right" yaml:"crop_right"`
}

// DefaultProcessingSettings returns the identity processing settings
func DefaultProcessingSettings() ProcessingSettings {
	return ProcessingSettings{Contrast: 1.0}
}

// UnmarshalJSON fills keys missing from data with the defaults
func (p *ProcessingSettings) UnmarshalJSON(data []byte) error {
	type alias ProcessingSettings
	a := alias(DefaultProcessingSettings())
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = ProcessingSettings(a)
	return nil
}

// UnmarshalYAML fills keys missing from the node with the defaults
func (p *ProcessingSettings) UnmarshalYAML(node *yaml.Node) error {
	type alias ProcessingSettings
	a := alias(DefaultProcessingSettings())
	if err := node.Decode(&a); err != nil {
		return err
	}
	*p = ProcessingSettings(a)
	return nil
}

// OcrSettings selects the recognition engine for a source
type OcrSettings struct {
	Engine       string         `json:"engine" yaml:"engine"`
	EngineConfig map[string]any `json:"engine_config,omitempty" yaml:"engine_config,omitempty"`
	OverlayColor string         `json:"overlay_color,omitempty" yaml:"overlay_color,omitempty"` // Hex color, e.g. #00FF00
}

// RegionBox is one rectangular region of the processed frame that is read by OCR
type RegionBox struct {
	ID     string `json:"id" yaml:"id"`
	Top    int    `json:"top" yaml:"top"`
	Left   int    `json:"left" yaml:"left"`
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
}

// SchedulingSettings controls triggering, frame caching and the result guards
type SchedulingSettings struct {
	ExecutionMode         ExecutionMode `json:"execution_mode" yaml:"execution_mode"`
	Cron                  string        `json:"cron,omitempty" yaml:"cron,omitempty"`
	CacheDuration         int           `json:"cache_duration,omitempty" yaml:"cache_duration,omitempty"` // Seconds; 0 uses the worker default
	DeltaTracking         bool          `json:"delta_tracking" yaml:"delta_tracking"`
	DeltaIncrease         float64       `json:"delta_increase,omitempty" yaml:"delta_increase,omitempty"`
	DeltaTimespan         float64       `json:"delta_timespan,omitempty" yaml:"delta_timespan,omitempty"` // Seconds
	AllowDecreasingValues bool          `json:"allow_decreasing_values" yaml:"allow_decreasing_values"`
}

// CacheTTL returns the frame cache TTL, falling back to def
func (s SchedulingSettings) CacheTTL(def time.Duration) time.Duration {
	if s.CacheDuration > 0 {
		return time.Duration(s.CacheDuration) * time.Second
	}
	return def
}

// SourceConfig is the complete configuration of one source
type SourceConfig struct {
	ID                 string             `json:"id" yaml:"id"`
	Name               string             `json:"name,omitempty" yaml:"name,omitempty"`
	URI                string             `json:"uri" yaml:"uri" binding:"required"`
	ProcessingSettings ProcessingSettings `json:"processing_settings" yaml:"processing_settings"`
	OcrSettings        OcrSettings        `json:"ocr_settings" yaml:"ocr_settings"`
	RegionBoxes        []RegionBox        `json:"region_boxes" yaml:"region_boxes"`
	SchedulingSettings SchedulingSettings `json:"scheduling_settings" yaml:"scheduling_settings"`
}

// Clone returns a deep copy of the configuration
func (c SourceConfig) Clone() SourceConfig {
	out := c
	out.RegionBoxes = append([]RegionBox(nil), c.RegionBoxes...)
	if c.OcrSettings.EngineConfig != nil {
		out.OcrSettings.EngineConfig = make(map[string]any, len(c.OcrSettings.EngineConfig))
		for k, v := range c.OcrSettings.EngineConfig {
			out.OcrSettings.EngineConfig[k] = v
		}
	}
	return out
}

// RegionResult is the recognized text of one region box
type RegionResult struct {
	BoxID      string  `json:"box_id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"` // 0-100
}

// OcrAggregate is the single authoritative reading of a source
type OcrAggregate struct {
	Value            float64   `json:"value"`
	Confidence       float64   `json:"confidence"` // 0-100, averaged across regions
	Timestamp        time.Time `json:"timestamp"`  // Frame acquisition time
	ImageFingerprint string    `json:"imageFingerprint"`
}

// OcrDocument is the persisted per-source record
type OcrDocument struct {
	Results   []RegionResult `json:"results"`
	Aggregate OcrAggregate   `json:"aggregate"`
}

// SourceResponse for API
type SourceResponse struct {
	SourceConfig
	Status     SourceStatus  `json:"status"`
	OcrRunning bool          `json:"ocr_running"`
	Aggregate  *OcrAggregate `json:"aggregate,omitempty"`
}
