package health

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"streamocr-worker-go/internal/models"
)

func TestServiceTracksSourceStatus(t *testing.T) {
	s := NewService(zerolog.Nop())
	ctx := context.Background()

	if st, err := s.Check(ctx, ""); err != nil || st != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("worker status = %v, err %v", st, err)
	}
	if _, err := s.Check(ctx, ServiceName("meter")); err == nil {
		t.Fatal("expected error for unregistered source")
	}

	s.Notify(models.SourceEvent{Type: models.EventTypeStatus, SourceID: "meter", Status: models.SourceStatusOK})
	if st, _ := s.Check(ctx, ServiceName("meter")); st != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status after OK = %v", st)
	}

	s.Notify(models.SourceEvent{Type: models.EventTypeStatus, SourceID: "meter", Status: models.SourceStatusNoConnection})
	if st, _ := s.Check(ctx, ServiceName("meter")); st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status after NO_CONNECTION = %v", st)
	}

	// Other event types do not touch the serving status
	running := true
	s.Notify(models.SourceEvent{Type: models.EventTypeOcrRunning, SourceID: "meter", OcrRunning: &running})
	if st, _ := s.Check(ctx, ServiceName("meter")); st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status after ocr_running = %v", st)
	}
}
