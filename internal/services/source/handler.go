package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
	"golang.org/x/sync/singleflight"

	"streamocr-worker-go/internal/config"
	"streamocr-worker-go/internal/helpers"
	"streamocr-worker-go/internal/logging"
	"streamocr-worker-go/internal/models"
	"streamocr-worker-go/internal/services/frames"
	"streamocr-worker-go/internal/services/processing"
	"streamocr-worker-go/internal/services/recognition"
	"streamocr-worker-go/internal/services/results"
)

// Deps are the collaborators shared by every source handler
type Deps struct {
	Source   frames.Source
	Bridge   *recognition.Bridge
	Engines  *recognition.Registry
	Results  *results.Store
	ExecLog  *logging.ExecutionLog
	Observer models.Observer
}

// RunResult is the outcome of one OCR run
type RunResult struct {
	Document models.OcrDocument `json:"document"`
	Outcome  results.Outcome    `json:"outcome"`
}

// Handler owns one source: its configuration, frame and thumbnail caches, and status
type Handler struct {
	appCfg *config.Config
	deps   Deps
	logger zerolog.Logger
	frames *frames.Cache
	thumbs *frames.ThumbnailCache
	flight singleflight.Group

	updateMu sync.Mutex

	mu          sync.RWMutex
	cfg         models.SourceConfig
	status      models.SourceStatus
	ocrRunning  bool
	lastResults []models.RegionResult
}

func NewHandler(appCfg *config.Config, cfg models.SourceConfig, deps Deps, logger zerolog.Logger) *Handler {
	return &Handler{
		appCfg: appCfg,
		deps:   deps,
		logger: logging.WithSource(logger, cfg.ID),
		frames: frames.NewCache(deps.Source, cfg.SchedulingSettings.CacheTTL(appCfg.FrameCacheTTL)),
		thumbs: frames.NewThumbnailCache(appCfg.ThumbnailDir, cfg.ID, appCfg.ThumbnailTTL, appCfg.ThumbnailWidth, appCfg.ThumbnailQuality),
		cfg:    cfg.Clone(),
		status: models.SourceStatusUnknown,
	}
}

func (h *Handler) ID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg.ID
}

// Config returns a copy of the current configuration
func (h *Handler) Config() models.SourceConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg.Clone()
}

func (h *Handler) Status() models.SourceStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *Handler) OcrRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ocrRunning
}

// LastResults returns the region results of the most recent recognition
func (h *Handler) LastResults() []models.RegionResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]models.RegionResult(nil), h.lastResults...)
}

// SetConfig replaces the configuration. A changed URI drops the cached frame and thumbnail.
func (h *Handler) SetConfig(cfg models.SourceConfig) {
	h.mu.Lock()
	uriChanged := h.cfg.URI != cfg.URI
	boxesChanged := !sameBoxes(h.cfg.RegionBoxes, cfg.RegionBoxes)
	cfg.ID = h.cfg.ID
	h.cfg = cfg.Clone()
	if boxesChanged {
		h.lastResults = nil
	}
	h.mu.Unlock()

	h.frames.SetTTL(cfg.SchedulingSettings.CacheTTL(h.appCfg.FrameCacheTTL))
	if uriChanged {
		h.frames.Invalidate()
	}
	if uriChanged || boxesChanged {
		if err := h.thumbs.Remove(); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to drop thumbnail")
		}
	}
}

func sameBoxes(a, b []models.RegionBox) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// updateStatus assigns status and notifies observers only on an actual transition
func (h *Handler) updateStatus(status models.SourceStatus) {
	h.mu.Lock()
	if h.status == status {
		h.mu.Unlock()
		return
	}
	prev := h.status
	h.status = status
	id := h.cfg.ID
	h.mu.Unlock()

	h.logger.Info().Str("from", prev.String()).Str("to", status.String()).Msg("Source status changed")
	h.notify(models.SourceEvent{Type: models.EventTypeStatus, SourceID: id, Status: status})
}

func (h *Handler) setOcrRunning(running bool) {
	h.mu.Lock()
	h.ocrRunning = running
	id := h.cfg.ID
	h.mu.Unlock()

	h.notify(models.SourceEvent{Type: models.EventTypeOcrRunning, SourceID: id, OcrRunning: &running})
}

func (h *Handler) notify(ev models.SourceEvent) {
	if h.deps.Observer == nil {
		return
	}
	ev.Timestamp = time.Now().UTC()
	h.deps.Observer.Notify(ev)
}

// StatusForError maps an acquisition or recognition failure to a source status
func StatusForError(err error) models.SourceStatus {
	switch {
	case errors.Is(err, frames.ErrNoStream):
		return models.SourceStatusNoStream
	case errors.Is(err, frames.ErrNoConnection):
		return models.SourceStatusNoConnection
	case errors.Is(err, frames.ErrTimeout), errors.Is(err, recognition.ErrTimeout):
		return models.SourceStatusTimeout
	default:
		return models.SourceStatusError
	}
}

// callerGaveUp reports whether err comes from the caller's own context rather than the source
func callerGaveUp(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// acquire returns a frame the caller must close. Status follows the acquisition outcome
// and is left alone when the caller's context ended first.
func (h *Handler) acquire(ctx context.Context, bust bool) (frames.Frame, error) {
	uri := h.Config().URI
	frame, err := h.frames.Get(ctx, uri, bust)
	if err != nil {
		if !callerGaveUp(err) {
			h.updateStatus(StatusForError(err))
		}
		return frames.Frame{}, fmt.Errorf("acquire frame: %w", err)
	}
	h.updateStatus(models.SourceStatusOK)
	return frame, nil
}

// fail marks the source ERROR and records the failure in the execution log
func (h *Handler) fail(ctx context.Context, method string, status models.SourceStatus, err error) error {
	h.updateStatus(status)
	h.execLog(ctx, zerolog.ErrorLevel, method, err.Error())
	return err
}

func (h *Handler) execLog(ctx context.Context, level zerolog.Level, method, message string) {
	if h.deps.ExecLog == nil {
		return
	}
	var err error
	id := h.ID()
	switch level {
	case zerolog.ErrorLevel:
		err = h.deps.ExecLog.Error(ctx, id, method, message)
	case zerolog.WarnLevel:
		err = h.deps.ExecLog.Warn(ctx, id, method, message)
	default:
		err = h.deps.ExecLog.Info(ctx, id, method, message)
	}
	if err != nil && !errors.Is(err, logging.ErrUnknownSource) {
		h.logger.Warn().Err(err).Msg("Failed to persist execution log")
	}
}

// GrabFrameRaw returns the unprocessed frame as JPEG
func (h *Handler) GrabFrameRaw(ctx context.Context, bust bool) ([]byte, error) {
	frame, err := h.acquire(ctx, bust)
	if err != nil {
		return nil, err
	}
	defer frame.Close()
	return helpers.EncodeJPEG(frame.Mat, h.appCfg.JPEGQuality)
}

// GrabFrame returns the processed frame as JPEG with region boxes drawn. With
// withResults the boxes carry the last recognized text instead of their ids.
func (h *Handler) GrabFrame(ctx context.Context, withResults, bust bool) ([]byte, error) {
	img, err := h.renderOverlay(ctx, withResults, bust)
	if err != nil {
		return nil, err
	}
	defer img.Close()
	return helpers.EncodeJPEG(img, h.appCfg.JPEGQuality)
}

func (h *Handler) renderOverlay(ctx context.Context, withResults, bust bool) (gocv.Mat, error) {
	frame, err := h.acquire(ctx, bust)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer frame.Close()

	cfg := h.Config()
	var res []models.RegionResult
	if withResults {
		res = h.LastResults()
		if res == nil {
			res = []models.RegionResult{}
		}
	}
	overlay := processing.NewOverlay(h.overlayColor(cfg), res)
	img, err := processing.Render(frame.Mat, cfg.ProcessingSettings, cfg.RegionBoxes, overlay)
	if err != nil {
		return gocv.Mat{}, h.fail(ctx, "GrabFrame", models.SourceStatusError, fmt.Errorf("render frame: %w", err))
	}
	return img, nil
}

// GrabComputedFrame returns the composite of all region crops as JPEG
func (h *Handler) GrabComputedFrame(ctx context.Context, bust bool) ([]byte, error) {
	stitched, _, err := h.composite(ctx, "GrabComputedFrame", bust)
	if err != nil {
		return nil, err
	}
	defer stitched.Close()
	return helpers.EncodeJPEG(stitched.Mat, h.appCfg.JPEGQuality)
}

// GrabThumbnail returns the cached downscaled frame with region boxes
func (h *Handler) GrabThumbnail(ctx context.Context) ([]byte, error) {
	return h.thumbs.Get(ctx, func(ctx context.Context) (gocv.Mat, error) {
		return h.renderOverlay(ctx, false, false)
	})
}

func (h *Handler) overlayColor(cfg models.SourceConfig) string {
	if cfg.OcrSettings.OverlayColor != "" {
		return cfg.OcrSettings.OverlayColor
	}
	return h.appCfg.OverlayColor
}

// composite renders the frame without overlay and stitches the region crops
func (h *Handler) composite(ctx context.Context, method string, bust bool) (*processing.Stitched, time.Time, error) {
	frame, err := h.acquire(ctx, bust)
	if err != nil {
		h.execLog(ctx, zerolog.WarnLevel, method, err.Error())
		return nil, time.Time{}, err
	}
	defer frame.Close()

	cfg := h.Config()
	rendered, err := processing.Render(frame.Mat, cfg.ProcessingSettings, nil, nil)
	if err != nil {
		return nil, time.Time{}, h.fail(ctx, method, models.SourceStatusError, fmt.Errorf("render frame: %w", err))
	}
	defer rendered.Close()

	stitched, err := processing.Composite(rendered, cfg.RegionBoxes)
	if err != nil {
		return nil, time.Time{}, h.fail(ctx, method, models.SourceStatusError, fmt.Errorf("build composite: %w", err))
	}
	return stitched, frame.CapturedAt, nil
}

// RunOcr reads the configured regions and offers the reading to the result store.
// Concurrent calls for the same source share one run. The run ignores cancellation
// of ctx but keeps its deadline.
func (h *Handler) RunOcr(ctx context.Context) (RunResult, error) {
	v, err, shared := h.flight.Do("ocr", func() (interface{}, error) {
		run := context.WithoutCancel(ctx)
		if deadline, ok := ctx.Deadline(); ok {
			var cancel context.CancelFunc
			run, cancel = context.WithDeadline(run, deadline)
			defer cancel()
		}
		return h.runOcr(run)
	})
	if shared {
		h.logger.Debug().Msg("Joined in-flight OCR run")
	}
	if err != nil {
		return RunResult{}, err
	}
	return v.(RunResult), nil
}

func (h *Handler) runOcr(ctx context.Context) (RunResult, error) {
	const method = "RunOcr"
	start := time.Now()
	cfg := h.Config()

	stitched, capturedAt, err := h.composite(ctx, method, false)
	if err != nil {
		return RunResult{}, err
	}
	defer stitched.Close()

	fingerprint, err := processing.Fingerprint(stitched.Mat)
	if err != nil {
		return RunResult{}, h.fail(ctx, method, models.SourceStatusError, err)
	}

	prior, err := h.deps.Results.Document(ctx, cfg.ID)
	if err != nil {
		return RunResult{}, h.fail(ctx, method, models.SourceStatusError, err)
	}
	if prior != nil && prior.Aggregate.ImageFingerprint == fingerprint {
		h.updateStatus(models.SourceStatusOK)
		h.logger.Debug().Str("fingerprint", fingerprint).Msg("Composite unchanged, skipping recognition")
		return RunResult{Document: *prior, Outcome: results.Unchanged}, nil
	}

	images, err := encodeRegions(stitched)
	if err != nil {
		return RunResult{}, h.fail(ctx, method, models.SourceStatusError, err)
	}

	engineID := cfg.OcrSettings.Engine
	if engineID == "" {
		engineID = h.appCfg.OcrDefaultEngine
	}
	engine, err := h.deps.Engines.Get(engineID)
	if err != nil {
		return RunResult{}, h.fail(ctx, method, models.SourceStatusError, err)
	}

	h.setOcrRunning(true)
	recognized, err := h.deps.Bridge.Submit(ctx, engineID, engine, images, cfg.OcrSettings.EngineConfig)
	h.setOcrRunning(false)
	if err != nil {
		return RunResult{}, h.fail(ctx, method, StatusForError(err), fmt.Errorf("recognize regions: %w", err))
	}

	regionResults := make([]models.RegionResult, len(recognized))
	var raw strings.Builder
	var confidence float64
	for i, r := range recognized {
		regionResults[i] = models.RegionResult{BoxID: stitched.BoxIDs[i], Text: r.Text, Confidence: r.Confidence}
		raw.WriteString(r.Text)
		confidence += r.Confidence
	}
	if len(recognized) > 0 {
		confidence /= float64(len(recognized))
	}

	h.mu.Lock()
	h.lastResults = regionResults
	h.mu.Unlock()

	candidate := models.OcrDocument{
		Results: regionResults,
		Aggregate: models.OcrAggregate{
			Value:            processing.ParseValue(raw.String()),
			Confidence:       confidence,
			Timestamp:        capturedAt,
			ImageFingerprint: fingerprint,
		},
	}
	doc, outcome, err := h.deps.Results.StoreResult(ctx, cfg.ID, candidate, results.GuardsFrom(cfg.SchedulingSettings))
	if err != nil {
		return RunResult{}, h.fail(ctx, method, models.SourceStatusError, fmt.Errorf("store result: %w", err))
	}
	h.updateStatus(models.SourceStatusOK)

	if outcome == results.Accepted {
		agg := doc.Aggregate
		h.notify(models.SourceEvent{Type: models.EventTypeOcrResult, SourceID: cfg.ID, Aggregate: &agg})
	}
	h.execLog(ctx, zerolog.InfoLevel, method, fmt.Sprintf("read %q as %v (%s, confidence %.1f)",
		raw.String(), candidate.Aggregate.Value, outcome, confidence))
	h.logger.Info().
		Str("outcome", string(outcome)).
		Float64("value", doc.Aggregate.Value).
		Dur("duration", time.Since(start)).
		Msg("OCR run finished")

	return RunResult{Document: doc, Outcome: outcome}, nil
}

func encodeRegions(stitched *processing.Stitched) ([][]byte, error) {
	parts, err := processing.Split(stitched.Mat, stitched.Widths)
	if err != nil {
		return nil, fmt.Errorf("split composite: %w", err)
	}
	defer func() {
		for _, p := range parts {
			p.Close()
		}
	}()

	images := make([][]byte, len(parts))
	for i, p := range parts {
		if images[i], err = helpers.EncodePNG(p); err != nil {
			return nil, fmt.Errorf("encode region %s: %w", stitched.BoxIDs[i], err)
		}
	}
	return images, nil
}

// Close releases the cached frame
func (h *Handler) Close() error {
	return h.frames.Close()
}

// removeArtifacts deletes on-disk state owned by the source
func (h *Handler) removeArtifacts() error {
	return h.thumbs.Remove()
}
