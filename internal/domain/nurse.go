package domain

import (
	"fmt"
	"strings"
	"time"
)

// NurseStatus represents nurse availability.
// offline → available (shift start) → busy (assignment) → available
// (call completion) → offline (shift end).
type NurseStatus string

const (
	NurseOffline   NurseStatus = "offline"
	NurseAvailable NurseStatus = "available"
	NurseBusy      NurseStatus = "busy"
)

func (s NurseStatus) String() string { return string(s) }

func (s NurseStatus) IsValid() bool {
	switch s {
	case NurseOffline, NurseAvailable, NurseBusy:
		return true
	}
	return false
}

func ParseNurseStatusFromString(s string) (NurseStatus, error) {
	st := NurseStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid nurse status %q", ErrValidation, s)
	}
	return st, nil
}

// Nurse is an on-staff nurse attached to one department.
type Nurse struct {
	ID             int64
	UserID         int64
	Name           string
	DeptID         int64
	HospitalID     int64
	Status         NurseStatus
	LastAssignedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ShiftStatus is the lifecycle state of a nurse shift.
type ShiftStatus string

const (
	ShiftActive ShiftStatus = "active"
	ShiftEnded  ShiftStatus = "ended"
)

func (s ShiftStatus) String() string { return string(s) }

// Shift is one work period during which a nurse is in the dispatch
// rotation for their department.
type Shift struct {
	ID         int64
	NurseID    int64
	DeptID     int64
	HospitalID int64
	Status     ShiftStatus
	StartedAt  time.Time
	EndedAt    *time.Time
	TotalCalls int
}

// Room is a hospital room from which calls originate.
type Room struct {
	ID         int64
	RoomNumber string
	DeptID     int64
	HospitalID int64
	IsActive   bool
	CreatedAt  time.Time
}
