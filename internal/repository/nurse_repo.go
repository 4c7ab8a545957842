package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sncs/nursecall-engine/internal/domain"
	"gorm.io/gorm"
)

type NurseRepository interface {
	GetByID(ctx context.Context, id, hospitalID int64) (*domain.Nurse, error)
	GetByUserID(ctx context.Context, userID, hospitalID int64) (*domain.Nurse, error)
	SetStatus(ctx context.Context, id int64, status domain.NurseStatus) error
	ActiveShift(ctx context.Context, nurseID int64) (*domain.Shift, error)
	StartShift(ctx context.Context, nurse *domain.Nurse) error
	EndShift(ctx context.Context, nurse *domain.Nurse) error
}

type GormNurseRepo struct {
	db *gorm.DB
}

func NewGormNurseRepo(db *gorm.DB) *GormNurseRepo {
	return &GormNurseRepo{db: db}
}

func (r *GormNurseRepo) GetByID(ctx context.Context, id, hospitalID int64) (*domain.Nurse, error) {
	var model NurseModel
	err := r.db.WithContext(ctx).
		First(&model, "id = ? AND hospital_id = ?", id, hospitalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return nurseModelToDomain(&model), nil
}

func (r *GormNurseRepo) GetByUserID(ctx context.Context, userID, hospitalID int64) (*domain.Nurse, error) {
	var model NurseModel
	err := r.db.WithContext(ctx).
		First(&model, "user_id = ? AND hospital_id = ?", userID, hospitalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return nurseModelToDomain(&model), nil
}

func (r *GormNurseRepo) SetStatus(ctx context.Context, id int64, status domain.NurseStatus) error {
	result := r.db.WithContext(ctx).
		Model(&NurseModel{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormNurseRepo) ActiveShift(ctx context.Context, nurseID int64) (*domain.Shift, error) {
	var model ShiftModel
	err := r.db.WithContext(ctx).
		First(&model, "nurse_id = ? AND status = ?", nurseID, domain.ShiftActive).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &domain.Shift{
		ID:         model.ID,
		NurseID:    model.NurseID,
		DeptID:     model.DeptID,
		HospitalID: model.HospitalID,
		Status:     model.Status,
		StartedAt:  model.StartedAt,
		EndedAt:    model.EndedAt,
		TotalCalls: model.TotalCalls,
	}, nil
}

// StartShift opens a shift row and flips the nurse to available in one
// transaction. The dispatch queue insert happens separately under the
// queue repository so the caller controls position assignment.
func (r *GormNurseRepo) StartShift(ctx context.Context, nurse *domain.Nurse) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		shift := ShiftModel{
			NurseID:    nurse.ID,
			DeptID:     nurse.DeptID,
			HospitalID: nurse.HospitalID,
			Status:     domain.ShiftActive,
			StartedAt:  time.Now().UTC(),
		}
		if err := tx.Create(&shift).Error; err != nil {
			return err
		}
		return tx.Model(&NurseModel{}).
			Where("id = ?", nurse.ID).
			Update("status", domain.NurseAvailable).Error
	})
}

// EndShift closes the active shift and flips the nurse offline.
func (r *GormNurseRepo) EndShift(ctx context.Context, nurse *domain.Nurse) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if err := tx.Model(&ShiftModel{}).
			Where("nurse_id = ? AND status = ?", nurse.ID, domain.ShiftActive).
			Updates(map[string]any{
				"status":   domain.ShiftEnded,
				"ended_at": now,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&NurseModel{}).
			Where("id = ?", nurse.ID).
			Update("status", domain.NurseOffline).Error
	})
}
