package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies an outbox event for realtime broadcast.
type EventType string

const (
	EventCallCreated   EventType = "call_created"
	EventCallAccept    EventType = "call_accept"
	EventCallArrive    EventType = "call_arrive"
	EventCallComplete  EventType = "call_complete"
	EventCallCancel    EventType = "call_cancel"
	EventCallEscalated EventType = "call_escalated"
)

func (t EventType) String() string { return string(t) }

// EventTypeForAction maps a state machine action to its broadcast event.
func EventTypeForAction(action CallAction) EventType {
	return EventType("call_" + action.String())
}

// Event is one append-only outbox row. Ids are monotonic; once the
// bridge sets Broadcast the row is immutable until the retention purge.
type Event struct {
	ID         int64
	Type       EventType
	Payload    json.RawMessage
	DeptID     int64
	HospitalID int64
	Broadcast  bool
	CreatedAt  time.Time
}

func (e *Event) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("%w: event type is required", ErrValidation)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	if e.HospitalID <= 0 {
		return fmt.Errorf("%w: hospital id is required", ErrValidation)
	}
	return nil
}
