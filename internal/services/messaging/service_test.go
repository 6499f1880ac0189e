package messaging

import (
	"context"
	"testing"

	"streamocr-worker-go/internal/config"
	"streamocr-worker-go/internal/models"
)

func TestSubject(t *testing.T) {
	if got := Subject("streamocr.events", "meter-1"); got != "streamocr.events.meter-1" {
		t.Fatalf("Subject = %q", got)
	}
}

func TestDisconnectedServiceDropsEvents(t *testing.T) {
	s := &Service{cfg: &config.Config{EventsSubject: "streamocr.events"}}
	if s.IsConnected() {
		t.Fatal("service without connection reports connected")
	}
	s.Notify(models.SourceEvent{Type: models.EventTypeStatus, SourceID: "meter", Status: models.SourceStatusOK})
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
