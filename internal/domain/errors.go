package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrThrottled is returned when a room already has an active call
	// inside the duplicate-call window.
	ErrThrottled = errors.New("call throttled")

	// ErrRateLimited is returned by admission control. Callers should
	// surface the retry-after delay.
	ErrRateLimited = errors.New("rate limited")

	// ErrLockBusy is returned when the department assignment lock could
	// not be acquired within its bounded wait. Safe to retry.
	ErrLockBusy = errors.New("assignment lock busy")

	// ErrNoNurseAvailable is the authoritative capacity error: the
	// department dispatch queue has no eligible nurse. It triggers
	// escalation instead of a fallback attempt.
	ErrNoNurseAvailable = errors.New("no nurse available")
)
