package events

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"streamocr-worker-go/internal/models"
)

func TestHubBroadcastsEvents(t *testing.T) {
	snapshot := func() []models.SourceEvent {
		return []models.SourceEvent{{Type: models.EventTypeStatus, SourceID: "meter", Status: models.SourceStatusUnknown}}
	}
	hub := NewHub(snapshot, zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev models.SourceEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if ev.SourceID != "meter" || ev.Status != models.SourceStatusUnknown {
		t.Fatalf("snapshot event = %+v", ev)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	running := true
	hub.Notify(models.SourceEvent{Type: models.EventTypeOcrRunning, SourceID: "meter", OcrRunning: &running})
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != models.EventTypeOcrRunning || ev.OcrRunning == nil || !*ev.OcrRunning {
		t.Fatalf("event = %+v", ev)
	}
}

func TestHubDropsClientsOnClose(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Close()
	if hub.Clients() != 0 {
		t.Fatalf("clients = %d after Close", hub.Clients())
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to be closed")
	}
}
