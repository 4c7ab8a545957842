package domain

import (
	"fmt"
	"time"
)

const (
	EscalationLevelMin = 1
	EscalationLevelMax = 3
)

// ReasonNoAvailableNurse marks the level-1 record inserted when an
// assignment attempt finds an empty dispatch queue.
const ReasonNoAvailableNurse = "no_available_nurse"

// EscalationLevel is the configuration of one severity tier.
type EscalationLevel struct {
	Level        int
	Timeout      time.Duration
	NotifyRole   string
	PriorityBump int
	Reason       string
}

// DefaultEscalationLevels mirrors the global escalation table:
// L1 90s → floor nurse, L2 180s → department manager, L3 300s → superadmin.
func DefaultEscalationLevels() []EscalationLevel {
	return []EscalationLevel{
		{Level: 1, Timeout: 90 * time.Second, NotifyRole: "nurse", PriorityBump: 1, Reason: "no_response_L1"},
		{Level: 2, Timeout: 180 * time.Second, NotifyRole: "dept_manager", PriorityBump: 2, Reason: "no_response_L2"},
		{Level: 3, Timeout: 300 * time.Second, NotifyRole: "superadmin", PriorityBump: 5, Reason: "no_response_L3"},
	}
}

// EscalationRecord is one entry of the escalation queue. At most one
// record exists per (call, level), and level N>1 requires level N-1.
type EscalationRecord struct {
	ID        int64
	CallID    int64
	Level     int
	Reason    string
	Resolved  bool
	CreatedAt time.Time
}

func (r *EscalationRecord) Validate() error {
	if r.CallID <= 0 {
		return fmt.Errorf("%w: call id is required", ErrValidation)
	}
	if r.Level < EscalationLevelMin || r.Level > EscalationLevelMax {
		return fmt.Errorf("%w: escalation level must be between %d and %d", ErrValidation, EscalationLevelMin, EscalationLevelMax)
	}
	if r.Reason == "" {
		return fmt.Errorf("%w: reason is required", ErrValidation)
	}
	return nil
}
