package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sncs/nursecall-engine/internal/domain"
)

// Control message types. Dispatch events travel with their own event
// type string, e.g. call_created, so the set here is only the framing
// the socket itself speaks.
const (
	TypeAuth           = "auth"
	TypeAuthOK         = "auth_ok"
	TypeAuthError      = "auth_error"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeSubscribe      = "subscribe"
	TypeSubscribed     = "subscribed"
	TypeServerShutdown = "server_shutdown"
	TypeError          = "error"
)

// Envelope is the single frame format in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TS      time.Time       `json:"ts"`
}

// AuthPayload is what a client sends to claim an identity. The user id
// is resolved against active staff before any events flow.
type AuthPayload struct {
	UserID int64 `json:"userId"`
}

// AuthOKPayload echoes the resolved identity back to the client.
type AuthOKPayload struct {
	UserID     int64  `json:"userId"`
	Role       string `json:"role"`
	HospitalID int64  `json:"hospitalId"`
	DeptID     int64  `json:"deptId"`
}

// SubscribePayload retargets an authenticated client to another
// department of its hospital.
type SubscribePayload struct {
	DeptID int64 `json:"deptId"`
}

// SubscribedPayload confirms the department now in effect.
type SubscribedPayload struct {
	DeptID int64 `json:"deptId"`
}

// ErrorPayload carries a short machine-readable reason. RetryAfter is
// set when the client may usefully reconnect after a delay.
type ErrorPayload struct {
	Reason     string `json:"reason"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// NewEnvelope wraps a payload value into a frame stamped now.
func NewEnvelope(messageType string, payload any) (Envelope, error) {
	env := Envelope{Type: messageType, TS: time.Now().UTC()}
	if payload == nil {
		return env, nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", messageType, err)
	}
	env.Payload = encoded
	return env, nil
}

// EventEnvelope frames a dispatch event for delivery. The event payload
// is already JSON; it passes through untouched.
func EventEnvelope(event domain.Event) Envelope {
	return Envelope{
		Type:    string(event.Type),
		Payload: event.Payload,
		TS:      event.CreatedAt,
	}
}
