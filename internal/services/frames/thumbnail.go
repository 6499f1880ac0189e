package frames

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"streamocr-worker-go/internal/helpers"
)

// ThumbnailCache keeps a downscaled JPEG of one source on disk for a TTL
type ThumbnailCache struct {
	path    string
	ttl     time.Duration
	width   int
	quality int
	now     func() time.Time

	mu sync.Mutex
}

func NewThumbnailCache(dir, sourceID string, ttl time.Duration, width, quality int) *ThumbnailCache {
	return &ThumbnailCache{
		path:    filepath.Join(dir, sourceID+".jpg"),
		ttl:     ttl,
		width:   width,
		quality: quality,
		now:     time.Now,
	}
}

// Path returns the thumbnail file location
func (t *ThumbnailCache) Path() string { return t.path }

// Get returns the cached thumbnail if it is younger than the TTL; otherwise it
// calls produce, downscales the result, and replaces the file.
func (t *ThumbnailCache) Get(ctx context.Context, produce func(context.Context) (gocv.Mat, error)) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if info, err := os.Stat(t.path); err == nil {
		if t.now().Sub(info.ModTime()) < t.ttl {
			if data, err := os.ReadFile(t.path); err == nil {
				return data, nil
			}
		}
		os.Remove(t.path)
	}

	mat, err := produce(ctx)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	small := helpers.ResizeToWidth(mat, t.width)
	defer small.Close()

	data, err := helpers.EncodeJPEG(small, t.quality)
	if err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	if err := writeAtomic(t.path, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Remove deletes the thumbnail file if present
func (t *ThumbnailCache) Remove() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove thumbnail: %w", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create thumbnail dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".thumb-*")
	if err != nil {
		return fmt.Errorf("create temp thumbnail: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write thumbnail: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close thumbnail: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace thumbnail: %w", err)
	}
	return nil
}
