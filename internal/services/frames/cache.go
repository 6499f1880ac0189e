package frames

import (
	"context"
	"errors"
	"sync"
	"time"

	"gocv.io/x/gocv"
	"golang.org/x/sync/singleflight"
)

var errEvicted = errors.New("cached frame evicted during acquisition")

// Frame is a decoded image and the instant it was acquired. The receiver owns Mat.
type Frame struct {
	Mat        gocv.Mat
	CapturedAt time.Time
}

// Close releases the frame's pixel buffer
func (f *Frame) Close() error {
	return f.Mat.Close()
}

type cachedFrame struct {
	uri        string
	mat        gocv.Mat
	capturedAt time.Time
}

// Cache keeps the most recently acquired frame of one source for a TTL.
// Concurrent misses for the same URI share a single acquisition.
type Cache struct {
	source Source
	now    func() time.Time

	mu     sync.Mutex
	ttl    time.Duration
	frame  *cachedFrame
	flight singleflight.Group
}

func NewCache(source Source, ttl time.Duration) *Cache {
	return &Cache{source: source, ttl: ttl, now: time.Now}
}

// SetTTL changes the freshness window for subsequent reads
func (c *Cache) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}

// Get returns a copy of the cached frame for uri, acquiring a new one when the
// cache is empty, stale, for another URI, or bust is set. The shared acquisition
// is not cancelled with ctx; a cancelled caller stops waiting and gets ctx.Err().
func (c *Cache) Get(ctx context.Context, uri string, bust bool) (Frame, error) {
	if !bust {
		if f, ok := c.fresh(uri); ok {
			return f, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	shared := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(uri, func() (interface{}, error) {
		mat, err := c.source.Acquire(shared, uri)
		if err != nil {
			return nil, err
		}
		c.store(uri, mat)
		return nil, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Frame{}, res.Err
		}
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frame == nil || c.frame.uri != uri {
		return Frame{}, errEvicted
	}
	return Frame{Mat: c.frame.mat.Clone(), CapturedAt: c.frame.capturedAt}, nil
}

func (c *Cache) fresh(uri string) (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frame == nil || c.frame.uri != uri || c.frame.mat.Empty() {
		return Frame{}, false
	}
	if c.now().Sub(c.frame.capturedAt) >= c.ttl {
		return Frame{}, false
	}
	return Frame{Mat: c.frame.mat.Clone(), CapturedAt: c.frame.capturedAt}, true
}

func (c *Cache) store(uri string, mat gocv.Mat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frame != nil {
		c.frame.mat.Close()
	}
	c.frame = &cachedFrame{uri: uri, mat: mat, capturedAt: c.now()}
}

// Invalidate drops the cached frame
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frame != nil {
		c.frame.mat.Close()
		c.frame = nil
	}
}

func (c *Cache) Close() error {
	c.Invalidate()
	return nil
}
