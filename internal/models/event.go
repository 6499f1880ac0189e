package models

import "time"

// EventType identifies the kind of source event broadcast to observers
type EventType string

const (
	EventTypeStatus     EventType = "status"
	EventTypeOcrRunning EventType = "ocr_running"
	EventTypeOcrResult  EventType = "ocr_result"
	EventTypeRemoved    EventType = "removed"
)

// SourceEvent is delivered to observers on every status/progress transition
type SourceEvent struct {
	Type       EventType     `json:"type"`
	SourceID   string        `json:"sourceId"`
	Status     SourceStatus  `json:"status,omitempty"`
	OcrRunning *bool         `json:"ocrRunning,omitempty"`
	Aggregate  *OcrAggregate `json:"aggregate,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Observer receives source events. Implementations must not block.
type Observer interface {
	Notify(event SourceEvent)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(event SourceEvent)

func (f ObserverFunc) Notify(event SourceEvent) { f(event) }

// Observers fans one event out to every observer in order
type Observers []Observer

func (o Observers) Notify(event SourceEvent) {
	for _, obs := range o {
		if obs != nil {
			obs.Notify(event)
		}
	}
}
