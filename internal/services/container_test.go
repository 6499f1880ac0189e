package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"streamocr-worker-go/internal/config"
	"streamocr-worker-go/internal/models"
)

func TestContainerReloadsPersistedSources(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		WorkerID:            "worker-test",
		SourcesFile:         filepath.Join(dir, "sources.yaml"),
		DatabasePath:        filepath.Join(dir, "ocr.db"),
		ThumbnailDir:        filepath.Join(dir, "thumbs"),
		ThumbnailTTL:        time.Minute,
		AcquireTimeout:      time.Second,
		OcrWorkers:          1,
		OcrQueueSize:        4,
		OcrTimeout:          time.Second,
		OcrShutdownTimeout:  time.Second,
		OcrDefaultEngine:    "tesseract",
		ScheduledRunTimeout: time.Minute,
	}
	doc := `sources:
  meter:
    uri: rtsp://meter
    ocr_settings:
      engine: tesseract
    scheduling_settings:
      execution_mode: cron
      cron: "*/10 * * * *"
`
	if err := os.WriteFile(cfg.SourcesFile, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	sc, err := NewServiceContainer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewServiceContainer: %v", err)
	}
	if !sc.Manager.Has("meter") {
		t.Fatal("persisted source was not loaded")
	}
	if jobs := sc.Scheduler.ListJobs(); len(jobs) != 1 || jobs[0].SourceID != "meter" {
		t.Fatalf("jobs = %+v", jobs)
	}
	if sc.Messaging != nil || sc.Health != nil {
		t.Fatal("optional observers should be disabled")
	}

	snap := sc.statusSnapshot()
	if len(snap) != 1 || snap[0].Status != models.SourceStatusUnknown || snap[0].OcrRunning == nil || *snap[0].OcrRunning {
		t.Fatalf("snapshot = %+v", snap)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
