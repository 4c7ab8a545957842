package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sncs/nursecall-engine/internal/domain"
	"github.com/sncs/nursecall-engine/internal/repository"
	"github.com/sncs/nursecall-engine/internal/service"
)

type CallService interface {
	CreateCall(ctx context.Context, in service.CreateCallInput) (*domain.Call, error)
	Act(ctx context.Context, in service.ActInput) (*domain.Call, error)
	ListActive(ctx context.Context, identity domain.Identity, filters repository.ActiveCallFilters) ([]repository.ActiveCall, error)
	Escalations(ctx context.Context, callID, hospitalID int64) ([]domain.EscalationRecord, error)
}

// NurseDirectory resolves the acting user to their nurse record so
// transitions are audited against the nurse, not the login.
type NurseDirectory interface {
	GetByUserID(ctx context.Context, userID, hospitalID int64) (*domain.Nurse, error)
}

type CallHandler struct {
	service CallService
	nurses  NurseDirectory
}

func NewCallHandler(service CallService, nurses NurseDirectory) (*CallHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("call service is required")
	}
	if nurses == nil {
		return nil, fmt.Errorf("nurse directory is required")
	}
	return &CallHandler{service: service, nurses: nurses}, nil
}

// RegisterCallRoutes mounts the call intake and lifecycle endpoints.
// Call creation carries no identity middleware: bedside units are
// anonymous and throttled by room plus the rate limiter instead.
func RegisterCallRoutes(router fiber.Router, service CallService, nurses NurseDirectory, identity fiber.Handler) error {
	h, err := NewCallHandler(service, nurses)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/calls", h.CreateCall)
	v1.Get("/calls/active", identity, h.ListActiveCalls)
	v1.Get("/calls/:id/escalations", identity, h.ListEscalations)
	v1.Post("/calls/:id/:action", identity, h.ActOnCall)

	return nil
}

// lockBusyRetryAfter is the retry hint for intake requests that lose
// the assignment lock race.
const lockBusyRetryAfter = "1"

type createCallRequest struct {
	RoomID     int64 `json:"roomId"`
	HospitalID int64 `json:"hospitalId"`
	Priority   int   `json:"priority"`
}

type actRequest struct {
	Notes string `json:"notes"`
}

type callResponse struct {
	ID             int64      `json:"id"`
	RoomID         int64      `json:"roomId"`
	DeptID         int64      `json:"deptId"`
	HospitalID     int64      `json:"hospitalId"`
	Status         string     `json:"status"`
	Priority       int        `json:"priority"`
	NurseID        *int64     `json:"nurseId,omitempty"`
	InitiatedBy    string     `json:"initiatedBy"`
	InitiatedAt    time.Time  `json:"initiatedAt"`
	AssignedAt     *time.Time `json:"assignedAt,omitempty"`
	AcceptedAt     *time.Time `json:"acceptedAt,omitempty"`
	ArrivedAt      *time.Time `json:"arrivedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	ResponseTimeMS *int64     `json:"responseTimeMs,omitempty"`
	Notes          string     `json:"notes,omitempty"`
}

type activeCallResponse struct {
	callResponse
	RoomNumber string  `json:"roomNumber"`
	NurseName  *string `json:"nurseName,omitempty"`
}

type escalationResponse struct {
	ID        int64     `json:"id"`
	CallID    int64     `json:"callId"`
	Level     int       `json:"level"`
	Reason    string    `json:"reason"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *CallHandler) CreateCall(c *fiber.Ctx) error {
	var req createCallRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.RoomID <= 0 {
		return toHTTPError(fmt.Errorf("%w: roomId is required", domain.ErrValidation))
	}
	if req.HospitalID <= 0 {
		return toHTTPError(fmt.Errorf("%w: hospitalId is required", domain.ErrValidation))
	}

	call, err := h.service.CreateCall(c.Context(), service.CreateCallInput{
		RoomID:     req.RoomID,
		HospitalID: req.HospitalID,
		Priority:   req.Priority,
	})
	if err != nil {
		if errors.Is(err, domain.ErrLockBusy) {
			c.Set(fiber.HeaderRetryAfter, lockBusyRetryAfter)
		}
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toCallResponse(call))
}

func (h *CallHandler) ActOnCall(c *fiber.Ctx) error {
	callID, err := pathID(c, "id")
	if err != nil {
		return toHTTPError(err)
	}
	action, err := domain.ParseCallActionFromString(c.Params("action"))
	if err != nil {
		return toHTTPError(err)
	}

	identity, err := identityFromCtx(c)
	if err != nil {
		return err
	}

	var req actRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	// Nurses act as their nurse record; managers and superadmins act
	// under their user id (cancel is the only transition they drive).
	actorID := identity.UserID
	if identity.Role == domain.RoleNurse {
		nurse, err := h.nurses.GetByUserID(c.Context(), identity.UserID, identity.HospitalID)
		if err != nil {
			return toHTTPError(err)
		}
		actorID = nurse.ID
	}

	call, err := h.service.Act(c.Context(), service.ActInput{
		CallID:     callID,
		HospitalID: identity.HospitalID,
		Action:     action,
		NurseID:    actorID,
		Notes:      req.Notes,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toCallResponse(call))
}

func (h *CallHandler) ListActiveCalls(c *fiber.Ctx) error {
	identity, err := identityFromCtx(c)
	if err != nil {
		return err
	}

	filters := repository.ActiveCallFilters{
		NurseID: int64(c.QueryInt("nurseId")),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := domain.ParseCallStatusFromString(raw)
		if err != nil {
			return toHTTPError(err)
		}
		filters.Status = &status
	}

	calls, err := h.service.ListActive(c.Context(), identity, filters)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": toActiveCallResponses(calls),
	})
}

func (h *CallHandler) ListEscalations(c *fiber.Ctx) error {
	callID, err := pathID(c, "id")
	if err != nil {
		return toHTTPError(err)
	}

	identity, err := identityFromCtx(c)
	if err != nil {
		return err
	}

	records, err := h.service.Escalations(c.Context(), callID, identity.HospitalID)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]escalationResponse, 0, len(records))
	for _, r := range records {
		responses = append(responses, escalationResponse{
			ID:        r.ID,
			CallID:    r.CallID,
			Level:     r.Level,
			Reason:    r.Reason,
			Resolved:  r.Resolved,
			CreatedAt: r.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": responses,
	})
}

func toCallResponse(call *domain.Call) callResponse {
	if call == nil {
		return callResponse{}
	}

	return callResponse{
		ID:             call.ID,
		RoomID:         call.RoomID,
		DeptID:         call.DeptID,
		HospitalID:     call.HospitalID,
		Status:         call.Status.String(),
		Priority:       call.Priority,
		NurseID:        call.NurseID,
		InitiatedBy:    call.InitiatedBy,
		InitiatedAt:    call.InitiatedAt,
		AssignedAt:     call.AssignedAt,
		AcceptedAt:     call.AcceptedAt,
		ArrivedAt:      call.ArrivedAt,
		CompletedAt:    call.CompletedAt,
		ResponseTimeMS: call.ResponseTimeMS,
		Notes:          call.Notes,
	}
}

func toActiveCallResponses(calls []repository.ActiveCall) []activeCallResponse {
	responses := make([]activeCallResponse, 0, len(calls))
	for _, call := range calls {
		c := call
		responses = append(responses, activeCallResponse{
			callResponse: toCallResponse(&c.Call),
			RoomNumber:   c.RoomNumber,
			NurseName:    c.NurseName,
		})
	}
	return responses
}

func pathID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Params(name)), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", domain.ErrValidation, name)
	}
	return id, nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrThrottled), errors.Is(err, domain.ErrRateLimited):
		return fiber.NewError(fiber.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrLockBusy):
		return fiber.NewError(fiber.StatusLocked, err.Error())
	default:
		return err
	}
}
