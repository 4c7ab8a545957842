package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sncs/nursecall-engine/internal/domain"
	"github.com/sncs/nursecall-engine/internal/observability"
	"github.com/sncs/nursecall-engine/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	headerUserID     = "X-User-Id"
	identityLocalKey = "identity"
)

// IdentityResolver turns an already-authenticated user id into the
// acting identity: role, hospital and department scope. Session
// validation happens upstream; this core only resolves scope.
type IdentityResolver interface {
	GetActive(ctx context.Context, userID int64) (*domain.Identity, error)
}

// RequireIdentity resolves the X-User-Id header into a domain identity
// and stores it in the request locals for downstream handlers.
func RequireIdentity(resolver IdentityResolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := strconv.ParseInt(strings.TrimSpace(c.Get(headerUserID)), 10, 64)
		if err != nil || userID <= 0 {
			return fiber.NewError(fiber.StatusUnauthorized, "missing or invalid X-User-Id header")
		}

		identity, err := resolver.GetActive(c.Context(), userID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fiber.NewError(fiber.StatusUnauthorized, "unknown or inactive user")
			}
			return err
		}

		c.Locals(identityLocalKey, *identity)
		return c.Next()
	}
}

func identityFromCtx(c *fiber.Ctx) (domain.Identity, error) {
	identity, ok := c.Locals(identityLocalKey).(domain.Identity)
	if !ok {
		return domain.Identity{}, fiber.NewError(fiber.StatusUnauthorized, "identity not resolved")
	}
	return identity, nil
}

// RateLimit applies per-client admission control keyed by remote
// address and endpoint group. A failing limiter admits the request:
// abuse mitigation must never take call intake down with it.
func RateLimit(limiter ratelimit.Limiter, metrics *observability.Metrics, logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *fiber.Ctx) error {
		if limiter == nil {
			return c.Next()
		}

		group := ratelimit.GroupForPath(c.Path())
		decision, err := limiter.Admit(c.Context(), c.IP(), group)
		if err != nil {
			logger.Warn("rate limiter unavailable, admitting request",
				zap.String("group", string(group)),
				zap.Error(err),
			)
			return c.Next()
		}

		if !decision.Allowed {
			metrics.IncRateLimited(string(group))
			retryAfter := int64(decision.RetryAfter / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.FormatInt(retryAfter, 10))
			return fiber.NewError(fiber.StatusTooManyRequests, "too many requests")
		}

		return c.Next()
	}
}
