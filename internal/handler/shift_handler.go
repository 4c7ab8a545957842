package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sncs/nursecall-engine/internal/domain"
	"github.com/sncs/nursecall-engine/internal/service"
)

type ShiftService interface {
	StartShift(ctx context.Context, userID, hospitalID int64) (*domain.Nurse, error)
	EndShift(ctx context.Context, userID, hospitalID int64) (*domain.Nurse, error)
	ToggleExclusion(ctx context.Context, in service.ExclusionInput) error
	Rotation(ctx context.Context, deptID int64) ([]domain.DispatchQueueEntry, error)
}

type ShiftHandler struct {
	service ShiftService
}

func NewShiftHandler(service ShiftService) (*ShiftHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("shift service is required")
	}
	return &ShiftHandler{service: service}, nil
}

func RegisterShiftRoutes(router fiber.Router, service ShiftService, identity fiber.Handler) error {
	h, err := NewShiftHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/shifts/start", identity, h.StartShift)
	v1.Post("/shifts/end", identity, h.EndShift)
	v1.Post("/nurses/:id/exclusion", identity, h.ToggleExclusion)
	v1.Get("/depts/:id/rotation", identity, h.Rotation)

	return nil
}

type exclusionRequest struct {
	Exclude bool   `json:"exclude"`
	Reason  string `json:"reason"`
}

type nurseResponse struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"userId"`
	Name           string     `json:"name"`
	DeptID         int64      `json:"deptId"`
	HospitalID     int64      `json:"hospitalId"`
	Status         string     `json:"status"`
	LastAssignedAt *time.Time `json:"lastAssignedAt,omitempty"`
}

type rotationEntryResponse struct {
	NurseID         int64      `json:"nurseId"`
	QueuePosition   int64      `json:"queuePosition"`
	IsExcluded      bool       `json:"isExcluded"`
	ExcludedUntil   *time.Time `json:"excludedUntil,omitempty"`
	ExclusionReason *string    `json:"exclusionReason,omitempty"`
}

func (h *ShiftHandler) StartShift(c *fiber.Ctx) error {
	identity, err := identityFromCtx(c)
	if err != nil {
		return err
	}

	nurse, err := h.service.StartShift(c.Context(), identity.UserID, identity.HospitalID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNurseResponse(nurse))
}

func (h *ShiftHandler) EndShift(c *fiber.Ctx) error {
	identity, err := identityFromCtx(c)
	if err != nil {
		return err
	}

	nurse, err := h.service.EndShift(c.Context(), identity.UserID, identity.HospitalID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNurseResponse(nurse))
}

func (h *ShiftHandler) ToggleExclusion(c *fiber.Ctx) error {
	nurseID, err := pathID(c, "id")
	if err != nil {
		return toHTTPError(err)
	}

	identity, err := identityFromCtx(c)
	if err != nil {
		return err
	}

	var req exclusionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	err = h.service.ToggleExclusion(c.Context(), service.ExclusionInput{
		NurseID:    nurseID,
		HospitalID: identity.HospitalID,
		ExcludedBy: identity.UserID,
		Reason:     req.Reason,
		Exclude:    req.Exclude,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"nurseId":  nurseID,
		"excluded": req.Exclude,
	})
}

func (h *ShiftHandler) Rotation(c *fiber.Ctx) error {
	deptID, err := pathID(c, "id")
	if err != nil {
		return toHTTPError(err)
	}

	if _, err := identityFromCtx(c); err != nil {
		return err
	}

	entries, err := h.service.Rotation(c.Context(), deptID)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]rotationEntryResponse, 0, len(entries))
	for _, e := range entries {
		responses = append(responses, rotationEntryResponse{
			NurseID:         e.NurseID,
			QueuePosition:   e.QueuePosition,
			IsExcluded:      e.IsExcluded,
			ExcludedUntil:   e.ExcludedUntil,
			ExclusionReason: e.ExclusionReason,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": responses,
	})
}

func toNurseResponse(n *domain.Nurse) nurseResponse {
	if n == nil {
		return nurseResponse{}
	}

	return nurseResponse{
		ID:             n.ID,
		UserID:         n.UserID,
		Name:           n.Name,
		DeptID:         n.DeptID,
		HospitalID:     n.HospitalID,
		Status:         string(n.Status),
		LastAssignedAt: n.LastAssignedAt,
	}
}
