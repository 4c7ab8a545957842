package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sncs/nursecall-engine/internal/domain"
)

// AuditLog exposes the append-only audit trail for review.
type AuditLog interface {
	Query(ctx context.Context, filters domain.AuditFilters) ([]domain.AuditEntry, error)
}

type AuditHandler struct {
	audits AuditLog
}

func NewAuditHandler(audits AuditLog) (*AuditHandler, error) {
	if audits == nil {
		return nil, fmt.Errorf("audit log is required")
	}
	return &AuditHandler{audits: audits}, nil
}

// RegisterAuditRoutes mounts the audit trail query endpoint. The trail
// records actions across departments, so it is limited to managers and
// superadmins.
func RegisterAuditRoutes(router fiber.Router, audits AuditLog, identity fiber.Handler) error {
	h, err := NewAuditHandler(audits)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/audit", identity, h.QueryAudit)

	return nil
}

type auditEntryResponse struct {
	ID        int64          `json:"id"`
	CallID    *int64         `json:"callId,omitempty"`
	NurseID   *int64         `json:"nurseId,omitempty"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor"`
	Reason    *string        `json:"reason,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

func (h *AuditHandler) QueryAudit(c *fiber.Ctx) error {
	identity, err := identityFromCtx(c)
	if err != nil {
		return err
	}
	if identity.Role == domain.RoleNurse {
		return fiber.NewError(fiber.StatusForbidden, "audit trail requires a manager role")
	}

	filters := domain.AuditFilters{
		Action:  strings.TrimSpace(c.Query("action")),
		Actor:   strings.TrimSpace(c.Query("actor")),
		CallID:  int64(c.QueryInt("callId")),
		NurseID: int64(c.QueryInt("nurseId")),
		Limit:   c.QueryInt("limit"),
		Offset:  c.QueryInt("offset"),
	}

	if filters.From, err = queryTime(c, "from"); err != nil {
		return toHTTPError(err)
	}
	if filters.To, err = queryTime(c, "to"); err != nil {
		return toHTTPError(err)
	}

	entries, err := h.audits.Query(c.Context(), filters)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]auditEntryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, auditEntryResponse{
			ID:        entry.ID,
			CallID:    entry.CallID,
			NurseID:   entry.NurseID,
			Action:    entry.Action,
			Actor:     entry.Actor,
			Reason:    entry.Reason,
			Meta:      entry.Meta,
			CreatedAt: entry.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": responses,
	})
}

func queryTime(c *fiber.Ctx, name string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC 3339", domain.ErrValidation, name)
	}
	return &ts, nil
}
