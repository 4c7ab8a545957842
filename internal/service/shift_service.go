package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sncs/nursecall-engine/internal/domain"
	"github.com/sncs/nursecall-engine/internal/repository"
	"go.uber.org/zap"
)

// exclusionTTL bounds a manual exclusion; an expired one stops
// blocking assignment even if nobody toggles the nurse back.
const exclusionTTL = 4 * time.Hour

// ExclusionInput toggles a nurse in or out of the dispatch rotation.
type ExclusionInput struct {
	NurseID    int64
	HospitalID int64
	ExcludedBy int64
	Reason     string
	Exclude    bool
}

// ShiftService owns the nurse shift lifecycle and rotation membership:
// starting a shift puts the nurse at the back of the department queue,
// ending one removes them.
type ShiftService struct {
	nurses repository.NurseRepository
	queue  repository.DispatchQueueRepository
	calls  repository.CallRepository
	audits repository.AuditRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewShiftService(
	nurses repository.NurseRepository,
	queue repository.DispatchQueueRepository,
	calls repository.CallRepository,
	audits repository.AuditRepository,
	logger *zap.Logger,
) (*ShiftService, error) {
	if nurses == nil {
		return nil, fmt.Errorf("nurse repository is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("dispatch queue repository is required")
	}
	if calls == nil {
		return nil, fmt.Errorf("call repository is required")
	}
	if audits == nil {
		return nil, fmt.Errorf("audit repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShiftService{
		nurses: nurses,
		queue:  queue,
		calls:  calls,
		audits: audits,
		logger: logger,
		now:    time.Now,
	}, nil
}

// StartShift opens a shift, marks the nurse available and enqueues
// them at the back of their department's rotation.
func (s *ShiftService) StartShift(ctx context.Context, userID, hospitalID int64) (*domain.Nurse, error) {
	nurse, err := s.nurses.GetByUserID(ctx, userID, hospitalID)
	if err != nil {
		return nil, err
	}

	shift, err := s.nurses.ActiveShift(ctx, nurse.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if shift != nil {
		return nil, fmt.Errorf("%w: nurse already has an active shift", domain.ErrConflict)
	}

	if err := s.nurses.StartShift(ctx, nurse); err != nil {
		return nil, fmt.Errorf("failed to start shift: %w", err)
	}

	position, err := s.queue.EnqueueAtBack(ctx, nurse.DeptID, nurse.ID, nurse.HospitalID)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue nurse: %w", err)
	}
	s.logger.Info("shift started",
		zap.Int64("nurseId", nurse.ID),
		zap.Int64("deptId", nurse.DeptID),
		zap.Int64("queuePosition", position),
	)

	s.audit(ctx, "shift_start", nurse.ID, nil)
	return s.nurses.GetByID(ctx, nurse.ID, hospitalID)
}

// EndShift closes the active shift and removes the nurse from the
// rotation. A nurse with calls in flight cannot end a shift.
func (s *ShiftService) EndShift(ctx context.Context, userID, hospitalID int64) (*domain.Nurse, error) {
	nurse, err := s.nurses.GetByUserID(ctx, userID, hospitalID)
	if err != nil {
		return nil, err
	}

	shift, err := s.nurses.ActiveShift(ctx, nurse.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: nurse has no active shift", domain.ErrConflict)
		}
		return nil, err
	}
	if shift == nil {
		return nil, fmt.Errorf("%w: nurse has no active shift", domain.ErrConflict)
	}

	inFlight, err := s.calls.CountActiveForNurse(ctx, nurse.ID)
	if err != nil {
		return nil, err
	}
	if inFlight > 0 {
		return nil, fmt.Errorf("%w: nurse has calls in flight", domain.ErrConflict)
	}

	if err := s.nurses.EndShift(ctx, nurse); err != nil {
		return nil, fmt.Errorf("failed to end shift: %w", err)
	}
	if err := s.queue.Remove(ctx, nurse.DeptID, nurse.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to dequeue nurse: %w", err)
	}

	s.audit(ctx, "shift_end", nurse.ID, nil)
	return s.nurses.GetByID(ctx, nurse.ID, hospitalID)
}

// ToggleExclusion pulls a nurse out of rotation for up to four hours,
// or puts them back. Excluding a nurse with calls in flight conflicts.
func (s *ShiftService) ToggleExclusion(ctx context.Context, in ExclusionInput) error {
	nurse, err := s.nurses.GetByID(ctx, in.NurseID, in.HospitalID)
	if err != nil {
		return err
	}

	if !in.Exclude {
		if err := s.queue.ClearExclusion(ctx, nurse.ID); err != nil {
			return err
		}
		s.audit(ctx, "nurse_restore", nurse.ID, nil)
		return nil
	}

	inFlight, err := s.calls.CountActiveForNurse(ctx, nurse.ID)
	if err != nil {
		return err
	}
	if inFlight > 0 {
		return fmt.Errorf("%w: nurse has calls in flight", domain.ErrConflict)
	}

	until := s.now().UTC().Add(exclusionTTL)
	if err := s.queue.SetExclusion(ctx, nurse.ID, in.ExcludedBy, in.Reason, until); err != nil {
		return err
	}
	s.audit(ctx, "nurse_exclude", nurse.ID, &in.Reason)
	return nil
}

// Rotation lists a department's dispatch queue for the dashboard.
func (s *ShiftService) Rotation(ctx context.Context, deptID int64) ([]domain.DispatchQueueEntry, error) {
	return s.queue.ListByDept(ctx, deptID)
}

func (s *ShiftService) audit(ctx context.Context, action string, nurseID int64, reason *string) {
	actor := domain.ActorNurse
	if action == "nurse_exclude" || action == "nurse_restore" {
		actor = domain.ActorManager
	}
	entry := &domain.AuditEntry{
		NurseID:   &nurseID,
		Action:    action,
		Actor:     actor,
		Reason:    reason,
		CreatedAt: s.now().UTC(),
	}
	if err := s.audits.Log(ctx, entry); err != nil {
		s.logger.Error("failed to write audit entry",
			zap.String("action", action),
			zap.Int64("nurseId", nurseID),
			zap.Error(err),
		)
	}
}
