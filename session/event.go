package session

import (
	"context"
	"time"

	"github.com/nedpals/davi-felica-agent/idcard"
)

// EventType names one outcome the controller reports.
type EventType string

const (
	EventCardDetected           EventType = "card_detected"
	EventCardReleased           EventType = "card_released"
	EventReadSuccess            EventType = "read_success"
	EventReadFailure            EventType = "read_failure"
	EventClassificationMismatch EventType = "classification_mismatch"
)

// Event is one report from the controller.
//
// Record is set only for EventReadSuccess. Failure is set for EventReadFailure and
// EventClassificationMismatch.
type Event struct {
	ID      string                `json:"id"`
	Type    EventType             `json:"type"`
	Time    time.Time             `json:"time"`
	TagID   string                `json:"tag_id,omitempty"`
	TagType string                `json:"tag_type,omitempty"`
	Record  *idcard.StudentRecord `json:"record,omitempty"`
	Failure *Failure              `json:"failure,omitempty"`
}

// Terminal reports whether the event ends a card cycle.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventReadSuccess, EventReadFailure, EventClassificationMismatch:
		return true
	}
	return false
}

// Notifier receives every event. Implementations handle their own failures; Report
// must not block longer than its own bounded I/O.
type Notifier interface {
	Report(ctx context.Context, event Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event Event)

func (f NotifierFunc) Report(ctx context.Context, event Event) {
	f(ctx, event)
}
