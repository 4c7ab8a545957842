package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// EventPurger deletes broadcast outbox rows older than a cutoff.
type EventPurger interface {
	PurgeBroadcastBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditPurger deletes audit rows older than a cutoff.
type AuditPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionSweeper deletes broadcast events past the event retention
// window and audit rows past the much longer audit window. Unbroadcast
// events are never purged regardless of age.
type RetentionSweeper struct {
	events         EventPurger
	audits         AuditPurger
	eventRetention time.Duration
	auditRetention time.Duration
	interval       time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

func NewRetentionSweeper(
	events EventPurger,
	audits AuditPurger,
	eventRetention, auditRetention, interval time.Duration,
	logger *zap.Logger,
) (*RetentionSweeper, error) {
	if events == nil {
		return nil, fmt.Errorf("event purger is required")
	}
	if audits == nil {
		return nil, fmt.Errorf("audit purger is required")
	}
	if eventRetention <= 0 {
		eventRetention = 24 * time.Hour
	}
	if auditRetention <= 0 {
		auditRetention = 90 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionSweeper{
		events:         events,
		audits:         audits,
		eventRetention: eventRetention,
		auditRetention: auditRetention,
		interval:       interval,
		logger:         loggerOrNop(logger),
		now:            time.Now,
	}, nil
}

func (s *RetentionSweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retention sweeper initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retention sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *RetentionSweeper) sweep(ctx context.Context) error {
	now := s.now().UTC()

	purgedEvents, err := s.events.PurgeBroadcastBefore(ctx, now.Add(-s.eventRetention))
	if err != nil {
		return fmt.Errorf("failed to purge events: %w", err)
	}

	purgedAudits, err := s.audits.PurgeBefore(ctx, now.Add(-s.auditRetention))
	if err != nil {
		return fmt.Errorf("failed to purge audit rows: %w", err)
	}

	if purgedEvents > 0 || purgedAudits > 0 {
		s.logger.Info("retention sweep completed",
			zap.Int64("purgedEvents", purgedEvents),
			zap.Int64("purgedAudits", purgedAudits),
		)
	}
	return nil
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
