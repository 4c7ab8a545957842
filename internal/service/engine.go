package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sncs/nursecall-engine/internal/domain"
	"github.com/sncs/nursecall-engine/internal/observability"
	"github.com/sncs/nursecall-engine/internal/repository"
	"go.uber.org/zap"
)

// Assignment paths, used for logs and metrics labels.
const (
	PathRoutine = "routine"
	PathLock    = "lock"
)

// Assigner picks the next nurse for a call.
type Assigner interface {
	Assign(ctx context.Context, callID, deptID int64) (int64, error)
}

// AssignmentEngine selects between the in-database routine and the
// advisory-lock fallback. The routine is probed once at startup; when
// it is installed it stays the primary path, with the lock path taken
// only on infrastructure failures. A no-nurse answer from either path
// is authoritative and never retried on the other.
type AssignmentEngine struct {
	assignments repository.AssignmentRepository
	lockTimeout time.Duration
	logger      *zap.Logger
	metrics     *observability.Metrics
	useRoutine  bool
}

func NewAssignmentEngine(
	ctx context.Context,
	assignments repository.AssignmentRepository,
	lockTimeout time.Duration,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*AssignmentEngine, error) {
	if assignments == nil {
		return nil, fmt.Errorf("assignment repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	useRoutine, err := assignments.HasAssignRoutine(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to probe assignment strategy: %w", err)
	}

	path := PathLock
	if useRoutine {
		path = PathRoutine
	}
	logger.Info("assignment engine ready", zap.String("primaryPath", path))

	return &AssignmentEngine{
		assignments: assignments,
		lockTimeout: lockTimeout,
		logger:      logger,
		metrics:     metrics,
		useRoutine:  useRoutine,
	}, nil
}

func (e *AssignmentEngine) Assign(ctx context.Context, callID, deptID int64) (int64, error) {
	if e.useRoutine {
		nurseID, err := e.assignments.AssignViaRoutine(ctx, callID, deptID)
		switch {
		case err == nil:
			e.metrics.IncAssignment(PathRoutine, "assigned")
			return nurseID, nil
		case errors.Is(err, domain.ErrNoNurseAvailable):
			e.metrics.IncAssignment(PathRoutine, "no_nurse")
			return 0, err
		default:
			e.metrics.IncAssignment(PathRoutine, "error")
			e.logger.Warn("assignment routine failed, falling back to advisory lock",
				zap.Int64("callId", callID),
				zap.Int64("deptId", deptID),
				zap.Error(err),
			)
		}
	}

	nurseID, err := e.assignments.AssignWithLock(ctx, callID, deptID, e.lockTimeout)
	switch {
	case err == nil:
		e.metrics.IncAssignment(PathLock, "assigned")
		return nurseID, nil
	case errors.Is(err, domain.ErrNoNurseAvailable):
		e.metrics.IncAssignment(PathLock, "no_nurse")
		return 0, err
	case errors.Is(err, domain.ErrLockBusy):
		e.metrics.IncAssignment(PathLock, "lock_busy")
		return 0, err
	default:
		e.metrics.IncAssignment(PathLock, "error")
		return 0, err
	}
}
