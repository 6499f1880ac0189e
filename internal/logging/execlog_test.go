package logging

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"streamocr-worker-go/internal/storage"
)

func TestExecutionLog(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(ctx, filepath.Join(t.TempDir(), "ocr.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	known := map[string]bool{"meter": true}
	execLog := NewExecutionLog(db, func(id string) bool { return known[id] }, zerolog.Nop())
	execLog.now = func() time.Time { return time.Unix(1700000000, 0) }

	if err := execLog.Info(ctx, "meter", "RunOcr", "started"); err != nil {
		t.Fatalf("Info: %v", err)
	}
	if err := execLog.Error(ctx, "meter", "RunOcr: ", "engine failed"); err != nil {
		t.Fatalf("Error: %v", err)
	}
	if err := execLog.Info(ctx, "ghost", "", "nope"); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}

	entries, err := execLog.List(ctx, "meter", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if entries[0].Level != "ERROR" || entries[0].Message != "RunOcr: engine failed" {
		t.Errorf("newest entry = %+v", entries[0])
	}
	if entries[1].Message != "RunOcr: started" {
		t.Errorf("oldest entry = %+v", entries[1])
	}

	if err := execLog.Purge(ctx, "meter"); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	entries, _ = execLog.List(ctx, "meter", 10)
	if len(entries) != 0 {
		t.Fatalf("entries after purge = %d", len(entries))
	}
}
