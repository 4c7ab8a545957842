package repository

import (
	"context"
	"time"

	"github.com/sncs/nursecall-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DispatchQueueRepository interface {
	EnqueueAtBack(ctx context.Context, deptID, nurseID, hospitalID int64) (int64, error)
	Remove(ctx context.Context, deptID, nurseID int64) error
	SetExclusion(ctx context.Context, nurseID int64, excludedBy int64, reason string, until time.Time) error
	ClearExclusion(ctx context.Context, nurseID int64) error
	ListByDept(ctx context.Context, deptID int64) ([]domain.DispatchQueueEntry, error)
}

type GormDispatchQueueRepo struct {
	db *gorm.DB
}

func NewGormDispatchQueueRepo(db *gorm.DB) *GormDispatchQueueRepo {
	return &GormDispatchQueueRepo{db: db}
}

// EnqueueAtBack inserts (or revives) the nurse's queue row at the
// current department maximum + 1. Runs in a transaction so two shift
// starts in the same department cannot claim the same position.
func (r *GormDispatchQueueRepo) EnqueueAtBack(ctx context.Context, deptID, nurseID, hospitalID int64) (int64, error) {
	var position int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw(
			"SELECT COALESCE(MAX(queue_position), 0) + 1 FROM dispatch_queue WHERE dept_id = ?",
			deptID,
		).Scan(&position).Error; err != nil {
			return err
		}

		entry := DispatchQueueModel{
			DeptID:        deptID,
			NurseID:       nurseID,
			HospitalID:    hospitalID,
			QueuePosition: position,
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "dept_id"}, {Name: "nurse_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"queue_position":   position,
				"is_excluded":      false,
				"excluded_until":   nil,
				"excluded_by":      nil,
				"exclusion_reason": nil,
			}),
		}).Create(&entry).Error
	})
	if err != nil {
		return 0, err
	}
	return position, nil
}

func (r *GormDispatchQueueRepo) Remove(ctx context.Context, deptID, nurseID int64) error {
	return r.db.WithContext(ctx).
		Where("dept_id = ? AND nurse_id = ?", deptID, nurseID).
		Delete(&DispatchQueueModel{}).Error
}

func (r *GormDispatchQueueRepo) SetExclusion(ctx context.Context, nurseID int64, excludedBy int64, reason string, until time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&DispatchQueueModel{}).
		Where("nurse_id = ?", nurseID).
		Updates(map[string]any{
			"is_excluded":      true,
			"excluded_until":   until,
			"excluded_by":      excludedBy,
			"exclusion_reason": reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDispatchQueueRepo) ClearExclusion(ctx context.Context, nurseID int64) error {
	result := r.db.WithContext(ctx).
		Model(&DispatchQueueModel{}).
		Where("nurse_id = ?", nurseID).
		Updates(map[string]any{
			"is_excluded":      false,
			"excluded_until":   nil,
			"excluded_by":      nil,
			"exclusion_reason": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDispatchQueueRepo) ListByDept(ctx context.Context, deptID int64) ([]domain.DispatchQueueEntry, error) {
	var models []DispatchQueueModel
	err := r.db.WithContext(ctx).
		Where("dept_id = ?", deptID).
		Order("queue_position ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.DispatchQueueEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *queueModelToDomain(&models[i]))
	}
	return entries, nil
}
