package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"streamocr-worker-go/internal/config"
)

// Minute, hour, day of month, month, day of week. Descriptors such as @hourly are not accepted.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// parse rejects anything but five fields, including a TZ= prefix the parser would otherwise strip
func parse(expr string) (cron.Schedule, error) {
	if n := len(strings.Fields(expr)); n != 5 {
		return nil, fmt.Errorf("expected 5 fields, found %d", n)
	}
	return cronParser.Parse(expr)
}

// RunFunc runs OCR for one source
type RunFunc func(ctx context.Context, sourceID string) error

// JobInfo describes one scheduled job
type JobInfo struct {
	ID       string    `json:"id"`
	SourceID string    `json:"source_id"`
	Trigger  string    `json:"trigger"`
	NextRun  time.Time `json:"next_run_time"`
}

type entry struct {
	id       cron.EntryID
	sourceID string
	expr     string
	schedule cron.Schedule
}

// Scheduler triggers OCR runs from 5-field cron expressions, one job per source
type Scheduler struct {
	cron       *cron.Cron
	chain      cron.Chain
	run        RunFunc
	runTimeout time.Duration
	logger     zerolog.Logger
	location   *time.Location

	mu   sync.Mutex
	jobs map[string]entry
}

// JobID derives the job key of a source
func JobID(sourceID string) string {
	return "ocr-job-" + sourceID
}

func New(cfg *config.Config, run RunFunc, logger zerolog.Logger) (*Scheduler, error) {
	loc := time.Local
	if cfg.SchedulerTimezone != "" && cfg.SchedulerTimezone != "Local" {
		var err error
		if loc, err = time.LoadLocation(cfg.SchedulerTimezone); err != nil {
			return nil, fmt.Errorf("load scheduler timezone %q: %w", cfg.SchedulerTimezone, err)
		}
	}

	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:       cron.New(cron.WithLocation(loc), cron.WithLogger(cl)),
		chain:      cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		run:        run,
		runTimeout: cfg.ScheduledRunTimeout,
		logger:     logger,
		location:   loc,
		jobs:       make(map[string]entry),
	}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Str("timezone", s.location.String()).Msg("Scheduler started")
}

// Stop stops triggering and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info().Msg("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduled jobs still running: %w", ctx.Err())
	}
}

// Validate parses expr as a standard 5-field cron expression
func (s *Scheduler) Validate(expr string) error {
	if _, err := parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// AddJob registers or replaces the job of a source. An unparsable expression is
// logged and leaves the existing job untouched.
func (s *Scheduler) AddJob(expr, sourceID string) {
	schedule, err := parse(expr)
	if err != nil {
		s.logger.Error().Err(err).Str("source_id", sourceID).Str("cron", expr).Msg("Invalid cron expression, keeping previous schedule")
		return
	}

	key := JobID(sourceID)
	job := s.chain.Then(cron.FuncJob(func() { s.trigger(sourceID) }))

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.jobs[key]; ok {
		s.cron.Remove(old.id)
	}
	id := s.cron.Schedule(schedule, job)
	s.jobs[key] = entry{id: id, sourceID: sourceID, expr: expr, schedule: schedule}

	s.logger.Info().Str("job_id", key).Str("cron", expr).Msg("Scheduled OCR job")
}

// RemoveJob removes the job of a source; absent jobs are ignored
func (s *Scheduler) RemoveJob(sourceID string) {
	key := JobID(sourceID)

	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.jobs[key]
	if !ok {
		s.logger.Debug().Str("job_id", key).Msg("No job to remove")
		return
	}
	s.cron.Remove(old.id)
	delete(s.jobs, key)
	s.logger.Info().Str("job_id", key).Msg("Removed OCR job")
}

// ListJobs returns every job ordered by id
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().In(s.location)
	out := make([]JobInfo, 0, len(s.jobs))
	for key, e := range s.jobs {
		next := s.cron.Entry(e.id).Next
		if next.IsZero() {
			next = e.schedule.Next(now)
		}
		out = append(out, JobInfo{ID: key, SourceID: e.sourceID, Trigger: "cron[" + e.expr + "]", NextRun: next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Scheduler) trigger(sourceID string) {
	ctx := context.Background()
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := s.run(ctx, sourceID); err != nil {
		s.logger.Error().Err(err).Str("source_id", sourceID).Msg("Scheduled OCR run failed")
		return
	}
	s.logger.Debug().Str("source_id", sourceID).Dur("duration", time.Since(start)).Msg("Scheduled OCR run finished")
}

// cronLogger routes cron's own logging through zerolog
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
