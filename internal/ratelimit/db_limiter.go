package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/sncs/nursecall-engine/internal/repository"
	"go.uber.org/zap"
)

var _ Limiter = (*DBLimiter)(nil)

// DBLimiter is a sliding-window limiter over counter rows in Postgres.
// It is the baseline strategy: correct on a single database with no
// extra infrastructure, at the cost of one count and one insert per
// admitted request.
type DBLimiter struct {
	repo   repository.RateLimitRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewDBLimiter(repo repository.RateLimitRepository, logger *zap.Logger) (*DBLimiter, error) {
	if repo == nil {
		return nil, fmt.Errorf("rate limit repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBLimiter{repo: repo, logger: logger, now: time.Now}, nil
}

func (l *DBLimiter) Admit(ctx context.Context, clientKey string, group Group) (Decision, error) {
	if clientKey == "" {
		return Decision{}, fmt.Errorf("client key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rule := RuleFor(group)
	now := l.now().UTC()
	windowStart := now.Add(-rule.Window)

	// Expired rows only skew counts upward, so a failed sweep is not
	// fatal to admission.
	if err := l.repo.DeleteExpired(ctx, string(group), windowStart); err != nil {
		l.logger.Warn("failed to sweep expired rate limit rows",
			zap.String("group", string(group)),
			zap.Error(err),
		)
	}

	count, err := l.repo.CountInWindow(ctx, clientKey, string(group), windowStart)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count rate limit window: %w", err)
	}
	if count >= rule.Limit {
		return Decision{Allowed: false, RetryAfter: rule.Window}, nil
	}

	if err := l.repo.Record(ctx, clientKey, string(group)); err != nil {
		return Decision{}, fmt.Errorf("failed to record rate limit hit: %w", err)
	}
	return Decision{Allowed: true}, nil
}
