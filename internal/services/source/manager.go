package source

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"streamocr-worker-go/internal/config"
	"streamocr-worker-go/internal/models"
)

var (
	ErrSourceNotFound = errors.New("source not found")
	ErrSourceExists   = errors.New("source already exists")
	ErrInvalidConfig  = errors.New("invalid source configuration")
)

// Source ids name thumbnail files and NATS subject tokens
var sourceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// JobScheduler registers cron triggers per source
type JobScheduler interface {
	AddJob(expr, sourceID string)
	RemoveJob(sourceID string)
	Validate(expr string) error
}

// ConfigStore persists the complete list of source configurations
type ConfigStore interface {
	Load() ([]models.SourceConfig, error)
	Save(configs []models.SourceConfig) error
}

// Manager owns every source handler and keeps the config document and cron table in sync
type Manager struct {
	cfg       *config.Config
	deps      Deps
	scheduler JobScheduler
	store     ConfigStore
	logger    zerolog.Logger

	handlers map[string]*Handler
	mutex    sync.RWMutex
}

func NewManager(cfg *config.Config, deps Deps, scheduler JobScheduler, store ConfigStore, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		deps:      deps,
		scheduler: scheduler,
		store:     store,
		logger:    logger,
		handlers:  make(map[string]*Handler),
	}
}

// LoadAll creates handlers for every persisted source and rebuilds their cron jobs
func (m *Manager) LoadAll() error {
	configs, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}

	m.mutex.Lock()
	for _, c := range configs {
		if !sourceIDPattern.MatchString(c.ID) {
			m.logger.Warn().Str("source_id", c.ID).Str("uri", c.URI).Msg("Skipping stored source with invalid id")
			continue
		}
		m.handlers[c.ID] = NewHandler(m.cfg, c, m.deps, m.logger)
	}
	m.mutex.Unlock()

	for _, c := range configs {
		if sourceIDPattern.MatchString(c.ID) {
			m.syncJob(c)
		}
	}
	m.logger.Info().Int("sources", len(configs)).Msg("Sources loaded")
	return nil
}

// Validate checks a configuration without applying it
func (m *Manager) Validate(c models.SourceConfig) error {
	if !sourceIDPattern.MatchString(c.ID) {
		return fmt.Errorf("%w: source id %q must be 1-64 letters, digits, '_' or '-'", ErrInvalidConfig, c.ID)
	}
	if c.URI == "" {
		return fmt.Errorf("%w: uri is required", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.RegionBoxes))
	for _, b := range c.RegionBoxes {
		if b.ID == "" {
			return fmt.Errorf("%w: region box without id", ErrInvalidConfig)
		}
		if seen[b.ID] {
			return fmt.Errorf("%w: duplicate region box id %q", ErrInvalidConfig, b.ID)
		}
		seen[b.ID] = true
		if b.Width < 0 || b.Height < 0 {
			return fmt.Errorf("%w: region box %q has negative size", ErrInvalidConfig, b.ID)
		}
	}

	s := c.SchedulingSettings
	switch s.ExecutionMode {
	case "", models.ExecutionModeManual:
	case models.ExecutionModeCron:
		if err := m.scheduler.Validate(s.Cron); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	default:
		return fmt.Errorf("%w: unknown execution mode %q", ErrInvalidConfig, s.ExecutionMode)
	}
	if s.DeltaTracking && s.DeltaTimespan <= 0 {
		return fmt.Errorf("%w: delta timespan must be positive when delta tracking is enabled", ErrInvalidConfig)
	}
	if s.CacheDuration < 0 {
		return fmt.Errorf("%w: cache duration cannot be negative", ErrInvalidConfig)
	}
	if c.OcrSettings.Engine != "" {
		if _, err := m.deps.Engines.Get(c.OcrSettings.Engine); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// Add registers a new source. An empty id is generated.
func (m *Manager) Add(c models.SourceConfig) (models.SourceConfig, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.OcrSettings.Engine == "" {
		c.OcrSettings.Engine = m.cfg.OcrDefaultEngine
	}
	if c.SchedulingSettings.ExecutionMode == "" {
		c.SchedulingSettings.ExecutionMode = models.ExecutionModeManual
	}
	if err := m.Validate(c); err != nil {
		return models.SourceConfig{}, err
	}

	m.mutex.Lock()
	if _, exists := m.handlers[c.ID]; exists {
		m.mutex.Unlock()
		return models.SourceConfig{}, fmt.Errorf("%w: %s", ErrSourceExists, c.ID)
	}
	m.handlers[c.ID] = NewHandler(m.cfg, c, m.deps, m.logger)
	if err := m.persistLocked(); err != nil {
		delete(m.handlers, c.ID)
		m.mutex.Unlock()
		return models.SourceConfig{}, err
	}
	m.syncJob(c)
	m.mutex.Unlock()

	m.logger.Info().Str("source_id", c.ID).Str("uri", c.URI).Msg("Source added")
	return c, nil
}

// Get returns the handler of a source
func (m *Manager) Get(id string) (*Handler, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	h, ok := m.handlers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	return h, nil
}

// Has reports whether a source is registered
func (m *Manager) Has(id string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.handlers[id]
	return ok
}

// List returns every handler ordered by source id
func (m *Manager) List() []*Handler {
	m.mutex.RLock()
	out := make([]*Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		out = append(out, h)
	}
	m.mutex.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Update applies fn to a copy of the source configuration, validates and persists it,
// and re-registers or removes the cron job. Updates of one source are serialized.
func (m *Manager) Update(id string, fn func(*models.SourceConfig)) (models.SourceConfig, error) {
	h, err := m.Get(id)
	if err != nil {
		return models.SourceConfig{}, err
	}
	h.updateMu.Lock()
	defer h.updateMu.Unlock()

	prev := h.Config()
	next := prev.Clone()
	fn(&next)
	next.ID = id
	if err := m.Validate(next); err != nil {
		return models.SourceConfig{}, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.handlers[id] != h {
		return models.SourceConfig{}, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	h.SetConfig(next)
	if err := m.persistLocked(); err != nil {
		h.SetConfig(prev)
		return models.SourceConfig{}, err
	}
	m.syncJob(next)
	return next, nil
}

// Remove deletes a source with its cron job, stored result, thumbnail, cached frame and logs
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mutex.Lock()
	h, ok := m.handlers[id]
	if !ok {
		m.mutex.Unlock()
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	delete(m.handlers, id)
	err := m.persistLocked()
	if err != nil {
		m.handlers[id] = h
	}
	m.mutex.Unlock()
	if err != nil {
		return err
	}

	m.scheduler.RemoveJob(id)

	var errs []error
	if err := m.deps.Results.Delete(ctx, id); err != nil {
		errs = append(errs, err)
	}
	if err := h.removeArtifacts(); err != nil {
		errs = append(errs, err)
	}
	if m.deps.ExecLog != nil {
		if err := m.deps.ExecLog.Purge(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	h.Close()

	if m.deps.Observer != nil {
		m.deps.Observer.Notify(models.SourceEvent{Type: models.EventTypeRemoved, SourceID: id, Timestamp: time.Now().UTC()})
	}
	m.logger.Info().Str("source_id", id).Msg("Source removed")
	return errors.Join(errs...)
}

// RunOcr runs recognition for a source
func (m *Manager) RunOcr(ctx context.Context, id string) (RunResult, error) {
	h, err := m.Get(id)
	if err != nil {
		return RunResult{}, err
	}
	return h.RunOcr(ctx)
}

// Describe returns the API view of a source
func (m *Manager) Describe(ctx context.Context, h *Handler) models.SourceResponse {
	resp := models.SourceResponse{
		SourceConfig: h.Config(),
		Status:       h.Status(),
		OcrRunning:   h.OcrRunning(),
	}
	agg, err := m.deps.Results.Aggregate(ctx, resp.ID)
	if err != nil {
		m.logger.Warn().Err(err).Str("source_id", resp.ID).Msg("Failed to read aggregate")
	}
	resp.Aggregate = agg
	return resp
}

// Shutdown releases every cached frame
func (m *Manager) Shutdown() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, h := range m.handlers {
		h.Close()
	}
	m.logger.Info().Int("sources", len(m.handlers)).Msg("Source manager stopped")
}

func (m *Manager) syncJob(c models.SourceConfig) {
	if c.SchedulingSettings.ExecutionMode == models.ExecutionModeCron && c.SchedulingSettings.Cron != "" {
		m.scheduler.AddJob(c.SchedulingSettings.Cron, c.ID)
		return
	}
	m.scheduler.RemoveJob(c.ID)
}

func (m *Manager) persistLocked() error {
	configs := make([]models.SourceConfig, 0, len(m.handlers))
	for _, h := range m.handlers {
		configs = append(configs, h.Config())
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].ID < configs[j].ID })
	if err := m.store.Save(configs); err != nil {
		return fmt.Errorf("persist sources: %w", err)
	}
	return nil
}
