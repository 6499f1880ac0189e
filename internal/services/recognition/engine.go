package recognition

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"streamocr-worker-go/internal/config"
)

var ErrUnknownEngine = errors.New("unknown OCR engine")

// Result is the recognized text of one region image. Confidence is 0-100.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Engine recognizes text in encoded images, returning one Result per image in order.
// Implementations may block; they are only called from bridge workers.
type Engine interface {
	Recognize(ctx context.Context, images [][]byte, cfg map[string]any) ([]Result, error)
}

// EngineFunc adapts a function to Engine
type EngineFunc func(ctx context.Context, images [][]byte, cfg map[string]any) ([]Result, error)

func (f EngineFunc) Recognize(ctx context.Context, images [][]byte, cfg map[string]any) ([]Result, error) {
	return f(ctx, images, cfg)
}

// Constructor builds an engine from application config
type Constructor func(cfg *config.Config) (Engine, error)

// Registry maps engine ids to constructors and caches constructed engines
type Registry struct {
	cfg *config.Config

	mu      sync.Mutex
	ctors   map[string]Constructor
	engines map[string]Engine
}

func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		cfg:     cfg,
		ctors:   make(map[string]Constructor),
		engines: make(map[string]Engine),
	}
}

// DefaultRegistry returns a registry with the built-in engines
func DefaultRegistry(cfg *config.Config) *Registry {
	r := NewRegistry(cfg)
	r.Register("tesseract", NewTesseractEngine)
	return r
}

// Register adds or replaces a constructor; a cached instance for id is discarded
func (r *Registry) Register(id string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[id] = ctor
	delete(r.engines, id)
}

// Get returns the engine for id, constructing it on first use
func (r *Registry) Get(id string) (Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.engines[id]; ok {
		return e, nil
	}
	ctor, ok := r.ctors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, id)
	}
	e, err := ctor(r.cfg)
	if err != nil {
		return nil, fmt.Errorf("construct engine %q: %w", id, err)
	}
	r.engines[id] = e
	return e, nil
}

// IDs lists registered engine ids
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.ctors))
	for id := range r.ctors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
