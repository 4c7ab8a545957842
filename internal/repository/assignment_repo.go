package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sncs/nursecall-engine/internal/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// pgLockNotAvailable is the SQLSTATE raised when lock_timeout expires.
const pgLockNotAvailable = "55P03"

// AssignmentRepository serializes nurse assignment per department. The
// routine path runs entirely inside the database; the locked path holds
// a department-scoped advisory lock for the span of one transaction.
type AssignmentRepository interface {
	HasAssignRoutine(ctx context.Context) (bool, error)
	AssignViaRoutine(ctx context.Context, callID, deptID int64) (int64, error)
	AssignWithLock(ctx context.Context, callID, deptID int64, lockTimeout time.Duration) (int64, error)
}

type GormAssignmentRepo struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewGormAssignmentRepo(db *gorm.DB, logger *zap.Logger) *GormAssignmentRepo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormAssignmentRepo{db: db, logger: logger}
}

// HasAssignRoutine reports whether the fast-path database routine is
// installed. Checked once at startup to select the strategy.
func (r *GormAssignmentRepo) HasAssignRoutine(ctx context.Context) (bool, error) {
	var exists bool
	err := r.db.WithContext(ctx).
		Raw("SELECT EXISTS (SELECT 1 FROM pg_proc WHERE proname = ?)", "assign_call_to_next_nurse").
		Scan(&exists).Error
	if err != nil {
		return false, fmt.Errorf("failed to probe assignment routine: %w", err)
	}
	return exists, nil
}

type routineResult struct {
	Success   bool
	NurseID   *int64
	ErrorCode *string
}

// AssignViaRoutine invokes the transactional database routine. A
// NO_NURSE_AVAILABLE result is authoritative and maps to
// domain.ErrNoNurseAvailable; any other failure is an infrastructure
// error the caller may fall back from.
func (r *GormAssignmentRepo) AssignViaRoutine(ctx context.Context, callID, deptID int64) (int64, error) {
	var result routineResult
	err := r.db.WithContext(ctx).
		Raw("SELECT success, nurse_id, error_code FROM assign_call_to_next_nurse(?, ?)", callID, deptID).
		Scan(&result).Error
	if err != nil {
		return 0, fmt.Errorf("assignment routine failed: %w", err)
	}

	if !result.Success {
		if result.ErrorCode != nil && *result.ErrorCode == "NO_NURSE_AVAILABLE" {
			return 0, domain.ErrNoNurseAvailable
		}
		code := "UNKNOWN"
		if result.ErrorCode != nil {
			code = *result.ErrorCode
		}
		return 0, fmt.Errorf("assignment routine reported %s", code)
	}
	if result.NurseID == nil {
		return 0, fmt.Errorf("assignment routine succeeded without a nurse id")
	}
	return *result.NurseID, nil
}

// AssignWithLock is the pessimistic fallback. The advisory lock is
// transaction-scoped, so every exit path releases it.
func (r *GormAssignmentRepo) AssignWithLock(ctx context.Context, callID, deptID int64, lockTimeout time.Duration) (int64, error) {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}

	var assignedNurse int64
	var noNurse bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds())).Error; err != nil {
			return err
		}

		lockName := fmt.Sprintf("sncs_assign_dept_%d", deptID)
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", lockName).Error; err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
				return domain.ErrLockBusy
			}
			return err
		}

		now := time.Now().UTC()

		// Same eligibility as the routine: in the department's rotation,
		// not excluded, and the nurse herself is available.
		var candidates []DispatchQueueModel
		if err := tx.
			Select("dispatch_queue.*").
			Joins("JOIN nurses ON nurses.id = dispatch_queue.nurse_id").
			Where("dispatch_queue.dept_id = ? AND nurses.status = ? AND (dispatch_queue.is_excluded = ? OR dispatch_queue.excluded_until < ?)",
				deptID, domain.NurseAvailable, false, now).
			Find(&candidates).Error; err != nil {
			return err
		}

		entry, duplicate, ok := nextInRotation(candidates)
		if !ok {
			// The escalation row must survive this exit, so the
			// transaction commits and the outer call reports no-nurse.
			escalation := EscalationModel{
				CallID:    callID,
				Level:     domain.EscalationLevelMin,
				Reason:    domain.ReasonNoAvailableNurse,
				CreatedAt: now,
			}
			if err := tx.Create(&escalation).Error; err != nil {
				return err
			}
			noNurse = true
			return nil
		}
		if duplicate {
			// Positions are unique per department by construction; a
			// duplicate means the table was mutated out of band.
			r.logger.Warn("duplicate dispatch queue position, picking lowest nurse id",
				zap.Int64("deptId", deptID),
				zap.Int64("queuePosition", entry.QueuePosition),
				zap.Int64("nurseId", entry.NurseID),
			)
		}

		if err := tx.Model(&NurseModel{}).
			Where("id = ?", entry.NurseID).
			Updates(map[string]any{
				"status":           domain.NurseBusy,
				"last_assigned_at": now,
			}).Error; err != nil {
			return err
		}

		if err := tx.Model(&CallModel{}).
			Where("id = ?", callID).
			Updates(map[string]any{
				"nurse_id":    entry.NurseID,
				"status":      domain.CallAssigned,
				"assigned_at": now,
			}).Error; err != nil {
			return err
		}

		// Move to the back of the line: department max + 1.
		if err := tx.Exec(
			`UPDATE dispatch_queue
			 SET queue_position = (SELECT COALESCE(MAX(dq.queue_position), 0) + 1 FROM dispatch_queue dq WHERE dq.dept_id = ?)
			 WHERE nurse_id = ? AND dept_id = ?`,
			deptID, entry.NurseID, deptID,
		).Error; err != nil {
			return err
		}

		assignedNurse = entry.NurseID
		return nil
	})
	if err != nil {
		return 0, err
	}
	if noNurse {
		return 0, domain.ErrNoNurseAvailable
	}

	return assignedNurse, nil
}

// nextInRotation picks the next assignee from a department's eligible
// queue entries: lowest position, ties broken by lowest nurse id. It
// also reports whether the winning position is duplicated.
func nextInRotation(entries []DispatchQueueModel) (DispatchQueueModel, bool, bool) {
	if len(entries) == 0 {
		return DispatchQueueModel{}, false, false
	}

	next := entries[0]
	for _, entry := range entries[1:] {
		if entry.QueuePosition < next.QueuePosition ||
			(entry.QueuePosition == next.QueuePosition && entry.NurseID < next.NurseID) {
			next = entry
		}
	}

	duplicate := false
	for _, entry := range entries {
		if entry.NurseID != next.NurseID && entry.QueuePosition == next.QueuePosition {
			duplicate = true
			break
		}
	}
	return next, duplicate, true
}
