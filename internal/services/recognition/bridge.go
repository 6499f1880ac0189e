package recognition

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrBridgeClosed = errors.New("recognition bridge closed")
	ErrTimeout      = errors.New("recognition timed out")
)

// Error is a failure raised by an engine, tagged with the engine id
type Error struct {
	Engine string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Engine, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// future is resolved exactly once, by a worker or by the waiting caller giving up
type future struct {
	once    sync.Once
	done    chan struct{}
	results []Result
	err     error
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

func (f *future) resolve(results []Result, err error) {
	f.once.Do(func() {
		f.results, f.err = results, err
		close(f.done)
	})
}

type job struct {
	ctx      context.Context
	engineID string
	engine   Engine
	images   [][]byte
	opts     map[string]any
	result   *future
}

// Bridge runs engine calls on a fixed set of dedicated worker goroutines.
// Jobs are taken from one FIFO queue; each worker handles one job at a time.
type Bridge struct {
	jobs            chan *job
	quit            chan struct{}
	timeout         time.Duration
	shutdownTimeout time.Duration
	logger          zerolog.Logger

	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewBridge starts workers goroutines. timeout bounds every submission (0 disables it);
// shutdownTimeout bounds how long Shutdown waits for queued work.
func NewBridge(workers, queueSize int, timeout, shutdownTimeout time.Duration, logger zerolog.Logger) *Bridge {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	b := &Bridge{
		jobs:            make(chan *job, queueSize),
		quit:            make(chan struct{}),
		timeout:         timeout,
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}
	logger.Info().Int("workers", workers).Int("queue_size", queueSize).Msg("Recognition bridge started")
	return b
}

// Submit queues a recognition job and waits for its outcome. Exactly one of
// results or error is returned per call, even when the deadline races the worker.
func (b *Bridge) Submit(ctx context.Context, engineID string, engine Engine, images [][]byte, opts map[string]any) ([]Result, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	j := &job{
		ctx:      ctx,
		engineID: engineID,
		engine:   engine,
		images:   images,
		opts:     opts,
		result:   newFuture(),
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrBridgeClosed
	}
	select {
	case b.jobs <- j:
		b.mu.RUnlock()
	case <-b.quit:
		b.mu.RUnlock()
		return nil, ErrBridgeClosed
	case <-ctx.Done():
		b.mu.RUnlock()
		return nil, contextError(ctx)
	}

	select {
	case <-j.result.done:
	case <-ctx.Done():
		j.result.resolve(nil, contextError(ctx))
		<-j.result.done
	}
	return j.result.results, j.result.err
}

func (b *Bridge) worker(id int) {
	defer b.wg.Done()
	// Native OCR libraries keep per-thread state
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	log := b.logger.With().Int("worker", id).Logger()
	for j := range b.jobs {
		if j.ctx.Err() != nil {
			j.result.resolve(nil, contextError(j.ctx))
			continue
		}
		start := time.Now()
		results, err := b.run(j)
		j.result.resolve(results, err)

		ev := log.Debug()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("engine", j.engineID).
			Int("images", len(j.images)).
			Dur("duration", time.Since(start)).
			Msg("Recognition job finished")
	}
}

func (b *Bridge) run(j *job) (results []Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			results, err = nil, &Error{Engine: j.engineID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	results, err = j.engine.Recognize(j.ctx, j.images, j.opts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, &Error{Engine: j.engineID, Err: err}
	}
	if len(results) != len(j.images) {
		return nil, &Error{Engine: j.engineID, Err: fmt.Errorf("returned %d results for %d images", len(results), len(j.images))}
	}
	return results, nil
}

// Shutdown stops accepting jobs and waits for queued ones to finish, up to the shutdown timeout
func (b *Bridge) Shutdown() error {
	b.stopOnce.Do(func() {
		close(b.quit)
		b.mu.Lock()
		b.closed = true
		close(b.jobs)
		b.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info().Msg("Recognition bridge stopped")
		return nil
	case <-time.After(b.shutdownTimeout):
		return fmt.Errorf("recognition workers still busy after %s", b.shutdownTimeout)
	}
}

func contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
