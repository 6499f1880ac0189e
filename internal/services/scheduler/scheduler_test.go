package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"streamocr-worker-go/internal/config"
)

func newTestScheduler(t *testing.T, run RunFunc) *Scheduler {
	t.Helper()
	if run == nil {
		run = func(context.Context, string) error { return nil }
	}
	s, err := New(&config.Config{SchedulerTimezone: "UTC", ScheduledRunTimeout: time.Second}, run, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestAddJobInvalidCronLeavesTableUnchanged(t *testing.T) {
	s := newTestScheduler(t, nil)

	s.AddJob("invalid cron", "meter")
	if jobs := s.ListJobs(); len(jobs) != 0 {
		t.Fatalf("jobs = %+v, want none", jobs)
	}

	s.AddJob("*/5 * * * *", "meter")
	s.AddJob("not a cron", "meter")
	jobs := s.ListJobs()
	if len(jobs) != 1 || jobs[0].Trigger != "cron[*/5 * * * *]" {
		t.Fatalf("jobs = %+v, want the previous schedule kept", jobs)
	}
}

func TestAddThenRemoveJob(t *testing.T) {
	s := newTestScheduler(t, nil)

	s.AddJob("* * * * *", "meter")
	s.RemoveJob("meter")
	if jobs := s.ListJobs(); len(jobs) != 0 {
		t.Fatalf("jobs = %+v, want none", jobs)
	}
	if n := len(s.cron.Entries()); n != 0 {
		t.Fatalf("cron entries = %d, want 0", n)
	}

	// Removing again is a no-op
	s.RemoveJob("meter")
}

func TestListJobsUsesDerivedKey(t *testing.T) {
	s := newTestScheduler(t, nil)

	s.AddJob("0 * * * *", "meter")
	jobs := s.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if jobs[0].ID != "ocr-job-meter" || jobs[0].SourceID != "meter" {
		t.Fatalf("job = %+v", jobs[0])
	}
	if jobs[0].NextRun.IsZero() || jobs[0].NextRun.Minute() != 0 {
		t.Fatalf("next run = %v", jobs[0].NextRun)
	}
}

func TestAddJobReplaces(t *testing.T) {
	s := newTestScheduler(t, nil)

	s.AddJob("* * * * *", "meter")
	s.AddJob("*/10 * * * *", "meter")
	jobs := s.ListJobs()
	if len(jobs) != 1 || jobs[0].Trigger != "cron[*/10 * * * *]" {
		t.Fatalf("jobs = %+v", jobs)
	}
	if n := len(s.cron.Entries()); n != 1 {
		t.Fatalf("cron entries = %d, want 1", n)
	}
}

func TestTriggerInvokesRun(t *testing.T) {
	got := make(chan string, 1)
	s := newTestScheduler(t, func(ctx context.Context, id string) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("run context has no deadline")
		}
		got <- id
		return nil
	})

	s.trigger("meter")
	select {
	case id := <-got:
		if id != "meter" {
			t.Fatalf("run for %q", id)
		}
	case <-time.After(time.Second):
		t.Fatal("run not invoked")
	}
}

func TestValidate(t *testing.T) {
	s := newTestScheduler(t, nil)
	if err := s.Validate("*/15 * * * *"); err != nil {
		t.Errorf("valid expression: %v", err)
	}
	for _, expr := range []string{"61 * * * *", "@hourly", "@every 5m", "TZ=UTC */5 * * * *", "0 */5 * * * *", ""} {
		if err := s.Validate(expr); err == nil {
			t.Errorf("Validate(%q) accepted", expr)
		}
	}
}
