package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sncs/nursecall-engine/internal/domain"
	"github.com/sncs/nursecall-engine/internal/observability"
	"github.com/sncs/nursecall-engine/internal/queue"
	"github.com/sncs/nursecall-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultScanInterval = 15 * time.Second
	scanBatchLimit      = 100
)

// EscalationScanner walks the ladder on a fixed interval. For each
// level it escalates calls unanswered past the level's timeout, then
// hands a notify message to the broker for the external push workers.
// The ladder step commits before the publish; a broker outage loses a
// notification, never an escalation.
type EscalationScanner struct {
	escalations repository.EscalationRepository
	publisher   queue.Publisher
	levels      []domain.EscalationLevel
	interval    time.Duration
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

func NewEscalationScanner(
	escalations repository.EscalationRepository,
	publisher queue.Publisher,
	levels []domain.EscalationLevel,
	interval time.Duration,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*EscalationScanner, error) {
	if escalations == nil {
		return nil, fmt.Errorf("escalation repository is required")
	}
	if len(levels) == 0 {
		levels = domain.DefaultEscalationLevels()
	}
	if interval <= 0 {
		interval = defaultScanInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscalationScanner{
		escalations: escalations,
		publisher:   publisher,
		levels:      levels,
		interval:    interval,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (s *EscalationScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-overdue calls do not wait for the
	// first ticker edge.
	if err := s.scan(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("escalation scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("escalation scanner scan failed", zap.Error(err))
			}
		}
	}
}

// scan walks the ladder bottom-up. A call overdue for several levels,
// for example after scanner downtime, catches up within one pass: the
// level-N step makes it a candidate for level N+1 in the same sweep.
func (s *EscalationScanner) scan(ctx context.Context) error {
	now := s.now().UTC()

	for _, level := range s.levels {
		cutoff := now.Add(-level.Timeout)

		candidates, err := s.escalations.CandidatesForLevel(ctx, level.Level, cutoff, scanBatchLimit)
		if err != nil {
			return fmt.Errorf("failed to fetch level %d candidates: %w", level.Level, err)
		}

		for _, candidate := range candidates {
			if err := s.escalations.Escalate(ctx, candidate, level); err != nil {
				s.logger.Error("failed to escalate call",
					zap.Int64("callId", candidate.CallID),
					zap.Int("level", level.Level),
					zap.Error(err),
				)
				continue
			}
			s.metrics.IncEscalation(level.Level)
			s.logger.Warn("call escalated",
				zap.Int64("callId", candidate.CallID),
				zap.Int("level", level.Level),
				zap.String("notifyRole", level.NotifyRole),
			)
			s.notify(ctx, candidate, level)
		}
	}
	return nil
}

func (s *EscalationScanner) notify(ctx context.Context, candidate repository.EscalationCandidate, level domain.EscalationLevel) {
	if s.publisher == nil {
		return
	}

	msg := queue.NewNotifyMessage(domain.Call{
		ID:         candidate.CallID,
		RoomID:     candidate.RoomID,
		DeptID:     candidate.DeptID,
		HospitalID: candidate.HospitalID,
	}, level)

	if err := s.publisher.Publish(ctx, queue.QueueName(level.NotifyRole), msg); err != nil {
		s.logger.Error("failed to publish escalation notification",
			zap.Int64("callId", candidate.CallID),
			zap.Int("level", level.Level),
			zap.Error(err),
		)
	}
}
