package domain

import "time"

// DispatchQueueEntry is one row of a department's round-robin rotation.
// Positions form a total order within a department with no contiguity
// requirement; assignment takes the minimum non-excluded position and
// rotates the winner to max+1.
type DispatchQueueEntry struct {
	ID              int64
	DeptID          int64
	NurseID         int64
	HospitalID      int64
	QueuePosition   int64
	IsExcluded      bool
	ExcludedUntil   *time.Time
	ExcludedBy      *int64
	ExclusionReason *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Eligible reports whether the entry may receive an assignment at the
// given instant. An expired exclusion no longer blocks assignment even
// before the restore toggle clears it.
func (e *DispatchQueueEntry) Eligible(now time.Time) bool {
	if !e.IsExcluded {
		return true
	}
	return e.ExcludedUntil != nil && e.ExcludedUntil.Before(now)
}
