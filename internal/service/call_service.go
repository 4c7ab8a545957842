package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sncs/nursecall-engine/internal/domain"
	"github.com/sncs/nursecall-engine/internal/observability"
	"github.com/sncs/nursecall-engine/internal/repository"
	"go.uber.org/zap"
)

// CreateCallInput is a patient-app request for assistance.
type CreateCallInput struct {
	RoomID     int64
	HospitalID int64
	Priority   int
}

// ActInput is one nurse-driven state machine action.
type ActInput struct {
	CallID     int64
	HospitalID int64
	Action     domain.CallAction
	NurseID    int64
	Notes      string
}

// CallService owns call intake and the call lifecycle.
type CallService struct {
	calls       repository.CallRepository
	escalations repository.EscalationRepository
	events      repository.EventRepository
	engine      Assigner
	throttle    time.Duration
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

func NewCallService(
	calls repository.CallRepository,
	escalations repository.EscalationRepository,
	events repository.EventRepository,
	engine Assigner,
	throttle time.Duration,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*CallService, error) {
	if calls == nil {
		return nil, fmt.Errorf("call repository is required")
	}
	if escalations == nil {
		return nil, fmt.Errorf("escalation repository is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("assignment engine is required")
	}
	if throttle <= 0 {
		throttle = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallService{
		calls:       calls,
		escalations: escalations,
		events:      events,
		engine:      engine,
		throttle:    throttle,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// CreateCall validates the room, applies the per-room throttle, creates
// the call and runs assignment. A call for which no nurse is available
// stays pending with an open escalation; the call is still returned.
// A busy assignment lock surfaces as ErrLockBusy so the caller retries.
// The call_created event is appended once assignment has settled, so
// real-time clients see the resolved status and nurse.
func (s *CallService) CreateCall(ctx context.Context, in CreateCallInput) (*domain.Call, error) {
	room, err := s.calls.GetRoom(ctx, in.RoomID, in.HospitalID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown or inactive room", domain.ErrNotFound)
		}
		return nil, err
	}

	now := s.now().UTC()
	active, err := s.calls.CountActiveForRoom(ctx, room.ID, now.Add(-s.throttle))
	if err != nil {
		return nil, fmt.Errorf("failed to check room throttle: %w", err)
	}
	if active > 0 {
		return nil, fmt.Errorf("%w: room already has an active call", domain.ErrThrottled)
	}

	call := &domain.Call{
		RoomID:      room.ID,
		DeptID:      room.DeptID,
		HospitalID:  room.HospitalID,
		Status:      domain.CallPending,
		Priority:    in.Priority,
		InitiatedBy: domain.ActorPatientApp,
		InitiatedAt: now,
	}
	if err := call.Validate(); err != nil {
		return nil, err
	}
	if err := s.calls.Create(ctx, call); err != nil {
		return nil, fmt.Errorf("failed to create call: %w", err)
	}
	s.metrics.IncCallCreated()

	nurseID, err := s.engine.Assign(ctx, call.ID, call.DeptID)
	switch {
	case err == nil:
		s.logger.Info("call assigned",
			zap.Int64("callId", call.ID),
			zap.Int64("nurseId", nurseID),
		)
		call, err = s.calls.GetByID(ctx, call.ID, call.HospitalID)
		if err != nil {
			return nil, err
		}
	case errors.Is(err, domain.ErrLockBusy):
		// The call row is committed; clients still hear about it before
		// the caller is told to retry assignment.
		s.appendCreatedEvent(ctx, call)
		return nil, fmt.Errorf("%w: assignment is busy, retry", domain.ErrLockBusy)
	default:
		// No nurse leaves the call pending with a level-1 escalation
		// open for the scanner to pick up.
		s.logger.Info("call created without immediate assignment",
			zap.Int64("callId", call.ID),
			zap.Int64("deptId", call.DeptID),
			zap.Error(err),
		)
	}

	s.appendCreatedEvent(ctx, call)
	return call, nil
}

// appendCreatedEvent writes the call_created outbox event with the
// call's settled status and nurse. The call itself is already
// committed; losing the event costs one broadcast, not the call.
func (s *CallService) appendCreatedEvent(ctx context.Context, call *domain.Call) {
	payload := map[string]any{
		"call_id":  call.ID,
		"room_id":  call.RoomID,
		"status":   call.Status,
		"nurse_id": call.NurseID,
	}
	if err := s.events.Append(ctx, domain.EventCallCreated, payload, call.DeptID, call.HospitalID); err != nil {
		s.logger.Error("failed to append call_created event",
			zap.Int64("callId", call.ID),
			zap.Error(err),
		)
	}
}

// Act applies one state machine action. Terminal transitions resolve
// any open escalations for the call.
func (s *CallService) Act(ctx context.Context, in ActInput) (*domain.Call, error) {
	if !in.Action.IsValid() {
		return nil, fmt.Errorf("%w: invalid call action %q", domain.ErrValidation, in.Action)
	}

	call, err := s.calls.ApplyTransition(ctx, repository.TransitionUpdate{
		CallID:     in.CallID,
		HospitalID: in.HospitalID,
		Action:     in.Action,
		ActorID:    in.NurseID,
		Notes:      in.Notes,
		Now:        s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncTransition(in.Action.String())

	if call.Status.IsTerminal() {
		if err := s.escalations.Resolve(ctx, call.ID); err != nil {
			s.logger.Error("failed to resolve escalations for terminal call",
				zap.Int64("callId", call.ID),
				zap.Error(err),
			)
		}
	}
	return call, nil
}

// ListActive returns the dashboard view of active calls, scoped to
// the identity's department unless the role spans all departments.
func (s *CallService) ListActive(ctx context.Context, identity domain.Identity, filters repository.ActiveCallFilters) ([]repository.ActiveCall, error) {
	filters.HospitalID = identity.HospitalID
	if !identity.AllDepartments() {
		filters.DeptID = identity.DeptID
	}
	return s.calls.ListActive(ctx, filters)
}

// Escalations returns the escalation trail of one call.
func (s *CallService) Escalations(ctx context.Context, callID, hospitalID int64) ([]domain.EscalationRecord, error) {
	if _, err := s.calls.GetByID(ctx, callID, hospitalID); err != nil {
		return nil, err
	}
	return s.escalations.ListForCall(ctx, callID)
}
