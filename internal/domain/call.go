package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// CallStatus represents the lifecycle state of a nurse call.
type CallStatus string

const (
	CallPending    CallStatus = "pending"
	CallAssigned   CallStatus = "assigned"
	CallInProgress CallStatus = "in_progress"
	CallCompleted  CallStatus = "completed"
	CallCancelled  CallStatus = "cancelled"
	CallEscalated  CallStatus = "escalated"
)

func (s CallStatus) String() string { return string(s) }

func (s CallStatus) IsValid() bool {
	switch s {
	case CallPending, CallAssigned, CallInProgress, CallCompleted, CallCancelled, CallEscalated:
		return true
	}
	return false
}

// IsTerminal reports whether the status accepts no further transition.
func (s CallStatus) IsTerminal() bool {
	return s == CallCompleted || s == CallCancelled
}

func ParseCallStatusFromString(s string) (CallStatus, error) {
	st := CallStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid call status %q", ErrValidation, s)
	}
	return st, nil
}

// ActiveCallStatuses are the non-terminal statuses used by active-call
// queries and the room throttle guard.
var ActiveCallStatuses = []CallStatus{CallPending, CallAssigned, CallInProgress, CallEscalated}

// CallAction is a nurse-driven state machine action.
type CallAction string

const (
	ActionAccept   CallAction = "accept"
	ActionArrive   CallAction = "arrive"
	ActionComplete CallAction = "complete"
	ActionCancel   CallAction = "cancel"
)

func (a CallAction) String() string { return string(a) }

func (a CallAction) IsValid() bool {
	switch a {
	case ActionAccept, ActionArrive, ActionComplete, ActionCancel:
		return true
	}
	return false
}

func ParseCallActionFromString(s string) (CallAction, error) {
	a := CallAction(strings.ToLower(strings.TrimSpace(s)))
	if !a.IsValid() {
		return "", fmt.Errorf("%w: invalid call action %q", ErrValidation, s)
	}
	return a, nil
}

// Transition describes one edge of the call state machine.
type Transition struct {
	From []CallStatus
	To   CallStatus
	// Stamp names the timestamp recorded by the transition; empty for
	// transitions that record no time column.
	Stamp string
}

var transitions = map[CallAction]Transition{
	// arrive is timestamp-only: the call stays in progress.
	ActionAccept:   {From: []CallStatus{CallAssigned}, To: CallInProgress, Stamp: "accepted_at"},
	ActionArrive:   {From: []CallStatus{CallInProgress}, To: CallInProgress, Stamp: "arrived_at"},
	ActionComplete: {From: []CallStatus{CallInProgress}, To: CallCompleted, Stamp: "completed_at"},
	ActionCancel:   {From: []CallStatus{CallPending, CallAssigned}, To: CallCancelled},
}

// TransitionFor validates the action against the call's current status and
// returns the transition to apply. A mismatch yields a conflict error that
// names the current status.
func TransitionFor(action CallAction, current CallStatus) (Transition, error) {
	t, ok := transitions[action]
	if !ok {
		return Transition{}, fmt.Errorf("%w: invalid call action %q", ErrValidation, action)
	}
	if !slices.Contains(t.From, current) {
		return Transition{}, fmt.Errorf("%w: cannot %s a call with status %q", ErrConflict, action, current)
	}
	return t, nil
}

// Call is one request for assistance from a hospital room.
type Call struct {
	ID          int64
	RoomID      int64
	DeptID      int64
	HospitalID  int64
	Status      CallStatus
	Priority    int
	NurseID     *int64
	InitiatedBy string
	InitiatedAt time.Time
	AssignedAt  *time.Time
	AcceptedAt  *time.Time
	ArrivedAt   *time.Time
	CompletedAt *time.Time
	// ResponseTimeMS is the elapsed time from initiation to completion.
	ResponseTimeMS *int64
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (c *Call) Validate() error {
	if c.RoomID <= 0 {
		return fmt.Errorf("%w: room id is required", ErrValidation)
	}
	if c.HospitalID <= 0 {
		return fmt.Errorf("%w: hospital id is required", ErrValidation)
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("%w: invalid call status %q", ErrValidation, c.Status)
	}
	if c.Priority < 0 {
		return fmt.Errorf("%w: priority must not be negative", ErrValidation)
	}
	return nil
}
