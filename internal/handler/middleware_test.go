package handler

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sncs/nursecall-engine/internal/domain"
	"github.com/sncs/nursecall-engine/internal/ratelimit"
	"github.com/sncs/nursecall-engine/internal/transport"
	"go.uber.org/zap"
)

type stubLimiter struct {
	decision ratelimit.Decision
	err      error
	lastKey  string
	lastGrp  ratelimit.Group
}

func (l *stubLimiter) Admit(_ context.Context, clientKey string, group ratelimit.Group) (ratelimit.Decision, error) {
	l.lastKey = clientKey
	l.lastGrp = group
	return l.decision, l.err
}

func newIdentityTestApp(t *testing.T, resolver IdentityResolver) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	app.Get("/whoami", RequireIdentity(resolver), func(c *fiber.Ctx) error {
		identity, err := identityFromCtx(c)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"userId": identity.UserID, "role": identity.Role})
	})

	return app
}

func TestRequireIdentity(t *testing.T) {
	t.Parallel()

	resolver := &stubIdentityResolver{identities: map[int64]domain.Identity{
		7: {UserID: 7, Role: domain.RoleNurse, HospitalID: 1, DeptID: 2},
	}}
	app := newIdentityTestApp(t, resolver)

	resp, body := performRequest(t, app, http.MethodGet, "/whoami", "", nurseAuth(7))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/whoami", "", nil)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without header", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/whoami", "", map[string]string{headerUserID: "abc"})
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for non-numeric header", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/whoami", "", map[string]string{headerUserID: "-3"})
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for non-positive user id", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/whoami", "", nurseAuth(404))
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for unknown user", resp.StatusCode)
	}
}

func TestRequireIdentityResolverFailure(t *testing.T) {
	t.Parallel()

	resolver := &stubIdentityResolver{err: fmt.Errorf("connection refused")}
	app := newIdentityTestApp(t, resolver)

	resp, _ := performRequest(t, app, http.MethodGet, "/whoami", "", nurseAuth(7))
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 for resolver failure", resp.StatusCode)
	}
}

func newRateLimitTestApp(t *testing.T, limiter ratelimit.Limiter) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	app.Use(RateLimit(limiter, nil, zap.NewNop()))
	app.Post("/v1/calls", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	return app
}

func TestRateLimitAdmits(t *testing.T) {
	t.Parallel()

	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: true}}
	app := newRateLimitTestApp(t, limiter)

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/calls", "{}", nil)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if limiter.lastGrp != ratelimit.GroupCalls {
		t.Fatalf("group = %s, want calls", limiter.lastGrp)
	}
	if limiter.lastKey == "" {
		t.Fatal("client key should be the remote address")
	}
}

func TestRateLimitRejects(t *testing.T) {
	t.Parallel()

	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 60 * time.Second}}
	app := newRateLimitTestApp(t, limiter)

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/calls", "{}", nil)
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if got := resp.Header.Get(fiber.HeaderRetryAfter); got != "60" {
		t.Fatalf("Retry-After = %q, want 60", got)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	t.Parallel()

	limiter := &stubLimiter{err: fmt.Errorf("redis unavailable")}
	app := newRateLimitTestApp(t, limiter)

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/calls", "{}", nil)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201 when the limiter is down", resp.StatusCode)
	}
}

func TestRateLimitNilLimiter(t *testing.T) {
	t.Parallel()

	app := newRateLimitTestApp(t, nil)

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/calls", "{}", nil)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201 with no limiter configured", resp.StatusCode)
	}
}
