package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sncs/nursecall-engine/internal/domain"
	"github.com/sncs/nursecall-engine/internal/repository"
)

type fakeCallRepo struct {
	room        *domain.Room
	roomErr     error
	activeCount int64
	activeErr   error
	created     []*domain.Call
	createErr   error
	calls       map[int64]*domain.Call
	nextID      int64

	transitionResult *domain.Call
	transitionErr    error
	lastTransition   repository.TransitionUpdate

	listResult  []repository.ActiveCall
	lastFilters repository.ActiveCallFilters

	nurseActive int64
}

func newFakeCallRepo() *fakeCallRepo {
	return &fakeCallRepo{calls: map[int64]*domain.Call{}, nextID: 100}
}

func (f *fakeCallRepo) Create(_ context.Context, call *domain.Call) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	call.ID = f.nextID
	stored := *call
	f.created = append(f.created, &stored)
	f.calls[call.ID] = &stored
	return nil
}

func (f *fakeCallRepo) GetByID(_ context.Context, id, hospitalID int64) (*domain.Call, error) {
	call, ok := f.calls[id]
	if !ok || call.HospitalID != hospitalID {
		return nil, domain.ErrNotFound
	}
	out := *call
	return &out, nil
}

func (f *fakeCallRepo) CountActiveForRoom(context.Context, int64, time.Time) (int64, error) {
	return f.activeCount, f.activeErr
}

func (f *fakeCallRepo) CountActiveForNurse(context.Context, int64) (int64, error) {
	return f.nurseActive, nil
}

func (f *fakeCallRepo) ApplyTransition(_ context.Context, update repository.TransitionUpdate) (*domain.Call, error) {
	f.lastTransition = update
	return f.transitionResult, f.transitionErr
}

func (f *fakeCallRepo) ListActive(_ context.Context, filters repository.ActiveCallFilters) ([]repository.ActiveCall, error) {
	f.lastFilters = filters
	return f.listResult, nil
}

func (f *fakeCallRepo) GetRoom(context.Context, int64, int64) (*domain.Room, error) {
	if f.roomErr != nil {
		return nil, f.roomErr
	}
	return f.room, nil
}

type fakeEscalationRepo struct {
	candidates    map[int][]repository.EscalationCandidate
	candidatesErr error
	escalated     []repository.EscalationCandidate
	escalatedLvls []int
	escalateErr   error
	onEscalate    func(candidate repository.EscalationCandidate, level domain.EscalationLevel)
	resolved      []int64
	resolveErr    error
	records       []domain.EscalationRecord
}

func (f *fakeEscalationRepo) CandidatesForLevel(_ context.Context, level int, _ time.Time, _ int) ([]repository.EscalationCandidate, error) {
	if f.candidatesErr != nil {
		return nil, f.candidatesErr
	}
	return f.candidates[level], nil
}

func (f *fakeEscalationRepo) Escalate(_ context.Context, candidate repository.EscalationCandidate, level domain.EscalationLevel) error {
	if f.escalateErr != nil {
		return f.escalateErr
	}
	f.escalated = append(f.escalated, candidate)
	f.escalatedLvls = append(f.escalatedLvls, level.Level)
	if f.onEscalate != nil {
		f.onEscalate(candidate, level)
	}
	return nil
}

func (f *fakeEscalationRepo) Resolve(_ context.Context, callID int64) error {
	if f.resolveErr != nil {
		return f.resolveErr
	}
	f.resolved = append(f.resolved, callID)
	return nil
}

func (f *fakeEscalationRepo) ListForCall(context.Context, int64) ([]domain.EscalationRecord, error) {
	return f.records, nil
}

type fakeAssigner struct {
	nurseID int64
	err     error
	calls   int
	fn      func(callID, deptID int64) (int64, error)
}

func (f *fakeAssigner) Assign(_ context.Context, callID, deptID int64) (int64, error) {
	f.calls++
	if f.fn != nil {
		return f.fn(callID, deptID)
	}
	return f.nurseID, f.err
}

type appendedEvent struct {
	eventType  domain.EventType
	payload    any
	deptID     int64
	hospitalID int64
}

type fakeEventRepo struct {
	appended  []appendedEvent
	appendErr error
}

func (f *fakeEventRepo) Append(_ context.Context, eventType domain.EventType, payload any, deptID, hospitalID int64) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, appendedEvent{eventType: eventType, payload: payload, deptID: deptID, hospitalID: hospitalID})
	return nil
}

func (f *fakeEventRepo) MaxID(context.Context) (int64, error) { return 0, nil }

func (f *fakeEventRepo) FetchUnbroadcast(context.Context, int64, int) ([]domain.Event, error) {
	return nil, nil
}

func (f *fakeEventRepo) MarkBroadcast(context.Context, []int64) error { return nil }

func (f *fakeEventRepo) PurgeBroadcastBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func newTestCallService(t *testing.T, calls *fakeCallRepo, escalations *fakeEscalationRepo, events *fakeEventRepo, assigner *fakeAssigner) *CallService {
	t.Helper()

	if events == nil {
		events = &fakeEventRepo{}
	}
	svc, err := NewCallService(calls, escalations, events, assigner, 5*time.Minute, nil, nil)
	if err != nil {
		t.Fatalf("NewCallService() error = %v", err)
	}
	return svc
}

func TestCreateCallAssigns(t *testing.T) {
	t.Parallel()

	calls := newFakeCallRepo()
	calls.room = &domain.Room{ID: 7, RoomNumber: "204-A", DeptID: 3, HospitalID: 1, IsActive: true}
	assigner := &fakeAssigner{nurseID: 9}
	svc := newTestCallService(t, calls, &fakeEscalationRepo{}, nil, assigner)

	call, err := svc.CreateCall(context.Background(), CreateCallInput{RoomID: 7, HospitalID: 1})
	if err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}
	if call == nil {
		t.Fatal("expected a call")
	}
	if len(calls.created) != 1 {
		t.Fatalf("created %d calls, want 1", len(calls.created))
	}
	created := calls.created[0]
	if created.Status != domain.CallPending {
		t.Fatalf("status = %s, want pending", created.Status)
	}
	if created.DeptID != 3 {
		t.Fatalf("dept id = %d, want 3 (from room)", created.DeptID)
	}
	if created.InitiatedBy != domain.ActorPatientApp {
		t.Fatalf("initiated by = %s", created.InitiatedBy)
	}
	if assigner.calls != 1 {
		t.Fatalf("assigner calls = %d, want 1", assigner.calls)
	}
}

func TestCreateCallUnknownRoom(t *testing.T) {
	t.Parallel()

	calls := newFakeCallRepo()
	calls.roomErr = domain.ErrNotFound
	svc := newTestCallService(t, calls, &fakeEscalationRepo{}, nil, &fakeAssigner{})

	_, err := svc.CreateCall(context.Background(), CreateCallInput{RoomID: 404, HospitalID: 1})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("CreateCall() error = %v, want ErrNotFound", err)
	}
	if len(calls.created) != 0 {
		t.Fatal("no call should be created for an unknown room")
	}
}

func TestCreateCallThrottled(t *testing.T) {
	t.Parallel()

	calls := newFakeCallRepo()
	calls.room = &domain.Room{ID: 7, DeptID: 3, HospitalID: 1, IsActive: true}
	calls.activeCount = 1
	assigner := &fakeAssigner{}
	svc := newTestCallService(t, calls, &fakeEscalationRepo{}, nil, assigner)

	_, err := svc.CreateCall(context.Background(), CreateCallInput{RoomID: 7, HospitalID: 1})
	if !errors.Is(err, domain.ErrThrottled) {
		t.Fatalf("CreateCall() error = %v, want ErrThrottled", err)
	}
	if len(calls.created) != 0 {
		t.Fatal("throttled request must not create a call")
	}
	if assigner.calls != 0 {
		t.Fatal("throttled request must not attempt assignment")
	}
}

func TestCreateCallNoNurseLeavesPending(t *testing.T) {
	t.Parallel()

	calls := newFakeCallRepo()
	calls.room = &domain.Room{ID: 7, DeptID: 3, HospitalID: 1, IsActive: true}
	events := &fakeEventRepo{}
	assigner := &fakeAssigner{err: domain.ErrNoNurseAvailable}
	svc := newTestCallService(t, calls, &fakeEscalationRepo{}, events, assigner)

	call, err := svc.CreateCall(context.Background(), CreateCallInput{RoomID: 7, HospitalID: 1})
	if err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}
	if call.Status != domain.CallPending {
		t.Fatalf("status = %s, want pending", call.Status)
	}

	if len(events.appended) != 1 {
		t.Fatalf("appended %d events, want 1", len(events.appended))
	}
	payload := events.appended[0].payload.(map[string]any)
	if payload["status"] != domain.CallPending {
		t.Fatalf("event status = %v, want pending", payload["status"])
	}
	if payload["nurse_id"] != (*int64)(nil) {
		t.Fatalf("event nurse_id = %v, want nil", payload["nurse_id"])
	}
}

func TestCreateCallLockBusySurfaces(t *testing.T) {
	t.Parallel()

	calls := newFakeCallRepo()
	calls.room = &domain.Room{ID: 7, DeptID: 3, HospitalID: 1, IsActive: true}
	events := &fakeEventRepo{}
	assigner := &fakeAssigner{err: domain.ErrLockBusy}
	svc := newTestCallService(t, calls, &fakeEscalationRepo{}, events, assigner)

	_, err := svc.CreateCall(context.Background(), CreateCallInput{RoomID: 7, HospitalID: 1})
	if !errors.Is(err, domain.ErrLockBusy) {
		t.Fatalf("CreateCall() error = %v, want ErrLockBusy", err)
	}

	// The call row is committed and announced even though the caller
	// must retry assignment.
	if len(calls.created) != 1 {
		t.Fatalf("created %d calls, want 1", len(calls.created))
	}
	if len(events.appended) != 1 || events.appended[0].eventType != domain.EventCallCreated {
		t.Fatalf("appended events = %+v", events.appended)
	}
}

func TestCreateCallEventCarriesAssignment(t *testing.T) {
	t.Parallel()

	calls := newFakeCallRepo()
	calls.room = &domain.Room{ID: 7, DeptID: 3, HospitalID: 1, IsActive: true}
	events := &fakeEventRepo{}
	nurseID := int64(9)
	assigner := &fakeAssigner{fn: func(callID, _ int64) (int64, error) {
		stored := calls.calls[callID]
		stored.Status = domain.CallAssigned
		stored.NurseID = &nurseID
		return nurseID, nil
	}}
	svc := newTestCallService(t, calls, &fakeEscalationRepo{}, events, assigner)

	call, err := svc.CreateCall(context.Background(), CreateCallInput{RoomID: 7, HospitalID: 1})
	if err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}
	if call.Status != domain.CallAssigned {
		t.Fatalf("status = %s, want assigned", call.Status)
	}

	if len(events.appended) != 1 {
		t.Fatalf("appended %d events, want 1", len(events.appended))
	}
	appended := events.appended[0]
	if appended.eventType != domain.EventCallCreated || appended.deptID != 3 || appended.hospitalID != 1 {
		t.Fatalf("event = %+v", appended)
	}
	payload := appended.payload.(map[string]any)
	if payload["status"] != domain.CallAssigned {
		t.Fatalf("event status = %v, want assigned", payload["status"])
	}
	got, ok := payload["nurse_id"].(*int64)
	if !ok || got == nil || *got != nurseID {
		t.Fatalf("event nurse_id = %v, want %d", payload["nurse_id"], nurseID)
	}
}

func TestActResolvesEscalationsOnTerminal(t *testing.T) {
	t.Parallel()

	calls := newFakeCallRepo()
	calls.transitionResult = &domain.Call{ID: 42, Status: domain.CallCompleted}
	escalations := &fakeEscalationRepo{}
	svc := newTestCallService(t, calls, escalations, nil, &fakeAssigner{})

	call, err := svc.Act(context.Background(), ActInput{
		CallID:     42,
		HospitalID: 1,
		Action:     domain.ActionComplete,
		NurseID:    9,
		Notes:      "resolved at bedside",
	})
	if err != nil {
		t.Fatalf("Act() error = %v", err)
	}
	if call.Status != domain.CallCompleted {
		t.Fatalf("status = %s, want completed", call.Status)
	}
	if calls.lastTransition.Action != domain.ActionComplete || calls.lastTransition.ActorID != 9 {
		t.Fatalf("unexpected transition update: %+v", calls.lastTransition)
	}
	if len(escalations.resolved) != 1 || escalations.resolved[0] != 42 {
		t.Fatalf("escalations resolved = %v, want [42]", escalations.resolved)
	}
}

func TestActNonTerminalKeepsEscalations(t *testing.T) {
	t.Parallel()

	calls := newFakeCallRepo()
	calls.transitionResult = &domain.Call{ID: 42, Status: domain.CallInProgress}
	escalations := &fakeEscalationRepo{}
	svc := newTestCallService(t, calls, escalations, nil, &fakeAssigner{})

	if _, err := svc.Act(context.Background(), ActInput{CallID: 42, HospitalID: 1, Action: domain.ActionAccept, NurseID: 9}); err != nil {
		t.Fatalf("Act() error = %v", err)
	}
	if len(escalations.resolved) != 0 {
		t.Fatal("non-terminal transition must not resolve escalations")
	}
}

func TestActPropagatesConflict(t *testing.T) {
	t.Parallel()

	calls := newFakeCallRepo()
	calls.transitionErr = domain.ErrConflict
	svc := newTestCallService(t, calls, &fakeEscalationRepo{}, nil, &fakeAssigner{})

	_, err := svc.Act(context.Background(), ActInput{CallID: 42, HospitalID: 1, Action: domain.ActionAccept, NurseID: 9})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Act() error = %v, want ErrConflict", err)
	}
}

func TestActRejectsBadAction(t *testing.T) {
	t.Parallel()

	svc := newTestCallService(t, newFakeCallRepo(), &fakeEscalationRepo{}, nil, &fakeAssigner{})

	_, err := svc.Act(context.Background(), ActInput{CallID: 42, HospitalID: 1, Action: domain.CallAction("escalate")})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Act() error = %v, want ErrValidation", err)
	}
}

func TestListActiveScopesToDepartment(t *testing.T) {
	t.Parallel()

	calls := newFakeCallRepo()
	svc := newTestCallService(t, calls, &fakeEscalationRepo{}, nil, &fakeAssigner{})

	nurse := domain.Identity{UserID: 1, Role: domain.RoleNurse, HospitalID: 1, DeptID: 3}
	if _, err := svc.ListActive(context.Background(), nurse, repository.ActiveCallFilters{}); err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if calls.lastFilters.HospitalID != 1 || calls.lastFilters.DeptID != 3 {
		t.Fatalf("filters = %+v, want hospital 1 dept 3", calls.lastFilters)
	}

	admin := domain.Identity{UserID: 2, Role: domain.RoleSuperadmin, HospitalID: 1}
	if _, err := svc.ListActive(context.Background(), admin, repository.ActiveCallFilters{}); err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if calls.lastFilters.DeptID != 0 {
		t.Fatalf("superadmin filters = %+v, want unscoped dept", calls.lastFilters)
	}
}
