package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"streamocr-worker-go/internal/models"
)

// document is the on-disk layout: sources keyed by id
type document struct {
	Sources map[string]models.SourceConfig `yaml:"sources"`
}

// Store reads and writes the source configuration document
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns every stored source ordered by id. A missing file is an empty document.
func (s *Store) Load() ([]models.SourceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}

	out := make([]models.SourceConfig, 0, len(doc.Sources))
	for id, c := range doc.Sources {
		c.ID = id
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Save replaces the document with configs, via a temp file and rename
func (s *Store) Save(configs []models.SourceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := document{Sources: make(map[string]models.SourceConfig, len(configs))}
	for _, c := range configs {
		doc.Sources[c.ID] = c
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".sources-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write sources: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync sources: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close sources: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
