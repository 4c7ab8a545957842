package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sncs/nursecall-engine/internal/domain"
	"github.com/sncs/nursecall-engine/internal/repository"
	"github.com/sncs/nursecall-engine/internal/service"
	"github.com/sncs/nursecall-engine/internal/transport"
	"go.uber.org/zap"
)

type stubCallService struct {
	createFn      func(ctx context.Context, in service.CreateCallInput) (*domain.Call, error)
	actFn         func(ctx context.Context, in service.ActInput) (*domain.Call, error)
	listActiveFn  func(ctx context.Context, identity domain.Identity, filters repository.ActiveCallFilters) ([]repository.ActiveCall, error)
	escalationsFn func(ctx context.Context, callID, hospitalID int64) ([]domain.EscalationRecord, error)
}

func (s *stubCallService) CreateCall(ctx context.Context, in service.CreateCallInput) (*domain.Call, error) {
	if s.createFn == nil {
		return nil, fmt.Errorf("unexpected CreateCall")
	}
	return s.createFn(ctx, in)
}

func (s *stubCallService) Act(ctx context.Context, in service.ActInput) (*domain.Call, error) {
	if s.actFn == nil {
		return nil, fmt.Errorf("unexpected Act")
	}
	return s.actFn(ctx, in)
}

func (s *stubCallService) ListActive(ctx context.Context, identity domain.Identity, filters repository.ActiveCallFilters) ([]repository.ActiveCall, error) {
	if s.listActiveFn == nil {
		return nil, fmt.Errorf("unexpected ListActive")
	}
	return s.listActiveFn(ctx, identity, filters)
}

func (s *stubCallService) Escalations(ctx context.Context, callID, hospitalID int64) ([]domain.EscalationRecord, error) {
	if s.escalationsFn == nil {
		return nil, fmt.Errorf("unexpected Escalations")
	}
	return s.escalationsFn(ctx, callID, hospitalID)
}

type stubIdentityResolver struct {
	identities map[int64]domain.Identity
	err        error
}

func (s *stubIdentityResolver) GetActive(_ context.Context, userID int64) (*domain.Identity, error) {
	if s.err != nil {
		return nil, s.err
	}
	identity, ok := s.identities[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &identity, nil
}

type stubNurseDirectory struct {
	nurses map[int64]domain.Nurse
}

func (s *stubNurseDirectory) GetByUserID(_ context.Context, userID, hospitalID int64) (*domain.Nurse, error) {
	nurse, ok := s.nurses[userID]
	if !ok || nurse.HospitalID != hospitalID {
		return nil, domain.ErrNotFound
	}
	return &nurse, nil
}

func newCallTestApp(t *testing.T, svc CallService, nurses NurseDirectory, resolver IdentityResolver) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterCallRoutes(app, svc, nurses, RequireIdentity(resolver)); err != nil {
		t.Fatalf("RegisterCallRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

func nurseAuth(userID int64) map[string]string {
	return map[string]string{headerUserID: fmt.Sprintf("%d", userID)}
}

func TestCallIntegration_CreateCall(t *testing.T) {
	t.Parallel()

	svc := &stubCallService{
		createFn: func(_ context.Context, in service.CreateCallInput) (*domain.Call, error) {
			if in.RoomID == 999 {
				return nil, fmt.Errorf("%w: unknown or inactive room", domain.ErrNotFound)
			}
			if in.RoomID == 42 {
				return nil, fmt.Errorf("%w: room already has an active call", domain.ErrThrottled)
			}
			nurseID := int64(3)
			return &domain.Call{
				ID:          101,
				RoomID:      in.RoomID,
				DeptID:      2,
				HospitalID:  in.HospitalID,
				Status:      domain.CallAssigned,
				Priority:    in.Priority,
				NurseID:     &nurseID,
				InitiatedBy: domain.ActorPatientApp,
				InitiatedAt: time.Now().UTC(),
			}, nil
		},
	}
	app := newCallTestApp(t, svc, &stubNurseDirectory{}, &stubIdentityResolver{})

	resp, body := performRequest(t, app, http.MethodPost, "/v1/calls", `{"roomId":7,"hospitalId":1,"priority":1}`, nil)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(body))
	}
	var created map[string]any
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if created["id"] != float64(101) {
		t.Fatalf("id = %v, want 101", created["id"])
	}
	if created["status"] != domain.CallAssigned.String() {
		t.Fatalf("status = %v, want %s", created["status"], domain.CallAssigned)
	}
	if created["nurseId"] != float64(3) {
		t.Fatalf("nurseId = %v, want 3", created["nurseId"])
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/calls", `{"hospitalId":1}`, nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing roomId", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/calls", `{"roomId":7}`, nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing hospitalId", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/calls", `not-json`, nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed body", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/calls", `{"roomId":999,"hospitalId":1}`, nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown room", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/calls", `{"roomId":42,"hospitalId":1}`, nil)
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 for throttled room", resp.StatusCode)
	}
}

func TestCallIntegration_CreateCallLockBusy(t *testing.T) {
	t.Parallel()

	svc := &stubCallService{
		createFn: func(context.Context, service.CreateCallInput) (*domain.Call, error) {
			return nil, fmt.Errorf("%w: assignment is busy, retry", domain.ErrLockBusy)
		},
	}
	app := newCallTestApp(t, svc, &stubNurseDirectory{}, &stubIdentityResolver{})

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/calls", `{"roomId":7,"hospitalId":1}`, nil)
	if resp.StatusCode != fiber.StatusLocked {
		t.Fatalf("status = %d, want 423 for busy assignment lock", resp.StatusCode)
	}
	if got := resp.Header.Get(fiber.HeaderRetryAfter); got != "1" {
		t.Fatalf("Retry-After = %q, want %q", got, "1")
	}
}

func TestCallIntegration_ActOnCall(t *testing.T) {
	t.Parallel()

	var gotInput service.ActInput
	svc := &stubCallService{
		actFn: func(_ context.Context, in service.ActInput) (*domain.Call, error) {
			gotInput = in
			if in.CallID == 500 {
				return nil, fmt.Errorf("%w: call is not in a state accepting %s", domain.ErrConflict, in.Action)
			}
			return &domain.Call{
				ID:         in.CallID,
				HospitalID: in.HospitalID,
				Status:     domain.CallInProgress,
			}, nil
		},
	}
	resolver := &stubIdentityResolver{identities: map[int64]domain.Identity{
		7: {UserID: 7, Role: domain.RoleNurse, HospitalID: 1, DeptID: 2},
		9: {UserID: 9, Role: domain.RoleDeptManager, HospitalID: 1, DeptID: 2},
	}}
	nurses := &stubNurseDirectory{nurses: map[int64]domain.Nurse{
		7: {ID: 3, UserID: 7, HospitalID: 1, DeptID: 2},
	}}
	app := newCallTestApp(t, svc, nurses, resolver)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/calls/101/accept", `{"notes":"on my way"}`, nurseAuth(7))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	if gotInput.CallID != 101 || gotInput.HospitalID != 1 {
		t.Fatalf("ActInput scope = %+v, want call 101 hospital 1", gotInput)
	}
	if gotInput.Action != domain.ActionAccept {
		t.Fatalf("action = %s, want accept", gotInput.Action)
	}
	if gotInput.NurseID != 3 {
		t.Fatalf("nurse id = %d, want nurse record id 3", gotInput.NurseID)
	}
	if gotInput.Notes != "on my way" {
		t.Fatalf("notes = %q, want %q", gotInput.Notes, "on my way")
	}

	// Managers act under their user id, without a nurse lookup.
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/calls/102/cancel", "", nurseAuth(9))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 for manager cancel", resp.StatusCode)
	}
	if gotInput.NurseID != 9 {
		t.Fatalf("actor id = %d, want user id 9", gotInput.NurseID)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/calls/101/accept", "", nil)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without identity header", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/calls/101/reassign", "", nurseAuth(7))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown action", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/calls/abc/accept", "", nurseAuth(7))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for non-numeric id", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/calls/500/accept", "", nurseAuth(7))
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want 409 for transition conflict", resp.StatusCode)
	}
}

func TestCallIntegration_ListActiveCalls(t *testing.T) {
	t.Parallel()

	nurseName := "Aylin"
	svc := &stubCallService{
		listActiveFn: func(_ context.Context, identity domain.Identity, filters repository.ActiveCallFilters) ([]repository.ActiveCall, error) {
			if identity.UserID != 7 {
				t.Fatalf("identity user = %d, want 7", identity.UserID)
			}
			if filters.NurseID != 4 {
				t.Fatalf("nurseId filter = %d, want 4", filters.NurseID)
			}
			if filters.Status == nil || *filters.Status != domain.CallPending {
				t.Fatalf("status filter = %v, want pending", filters.Status)
			}
			return []repository.ActiveCall{
				{
					Call:       domain.Call{ID: 1, RoomID: 5, Status: domain.CallPending},
					RoomNumber: "A-105",
					NurseName:  &nurseName,
				},
			}, nil
		},
	}
	resolver := &stubIdentityResolver{identities: map[int64]domain.Identity{
		7: {UserID: 7, Role: domain.RoleNurse, HospitalID: 1, DeptID: 2},
	}}
	app := newCallTestApp(t, svc, &stubNurseDirectory{}, resolver)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/calls/active?nurseId=4&status=pending", "", nurseAuth(7))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var parsed struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Data) != 1 {
		t.Fatalf("data length = %d, want 1", len(parsed.Data))
	}
	if parsed.Data[0]["roomNumber"] != "A-105" {
		t.Fatalf("roomNumber = %v, want A-105", parsed.Data[0]["roomNumber"])
	}
	if parsed.Data[0]["nurseName"] != "Aylin" {
		t.Fatalf("nurseName = %v, want Aylin", parsed.Data[0]["nurseName"])
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/calls/active?status=bogus", "", nurseAuth(7))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for invalid status filter", resp.StatusCode)
	}
}

func TestCallIntegration_ListEscalations(t *testing.T) {
	t.Parallel()

	svc := &stubCallService{
		escalationsFn: func(_ context.Context, callID, hospitalID int64) ([]domain.EscalationRecord, error) {
			if callID != 101 {
				return nil, domain.ErrNotFound
			}
			if hospitalID != 1 {
				t.Fatalf("hospitalID = %d, want 1", hospitalID)
			}
			return []domain.EscalationRecord{
				{ID: 1, CallID: 101, Level: 1, Reason: "response timeout"},
				{ID: 2, CallID: 101, Level: 2, Reason: "response timeout"},
			}, nil
		},
	}
	resolver := &stubIdentityResolver{identities: map[int64]domain.Identity{
		9: {UserID: 9, Role: domain.RoleDeptManager, HospitalID: 1, DeptID: 2},
	}}
	app := newCallTestApp(t, svc, &stubNurseDirectory{}, resolver)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/calls/101/escalations", "", nurseAuth(9))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var parsed struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Data) != 2 {
		t.Fatalf("data length = %d, want 2", len(parsed.Data))
	}
	if parsed.Data[1]["level"] != float64(2) {
		t.Fatalf("level = %v, want 2", parsed.Data[1]["level"])
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/calls/404/escalations", "", nurseAuth(9))
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown call", resp.StatusCode)
	}
}
