package repository

import (
	"context"
	"errors"

	"github.com/sncs/nursecall-engine/internal/domain"
	"gorm.io/gorm"
)

// UserRepository resolves realtime-connection identities. Session
// issuance and account management live in the upstream auth layer.
type UserRepository interface {
	GetActive(ctx context.Context, userID int64) (*domain.Identity, error)
}

type GormUserRepo struct {
	db *gorm.DB
}

func NewGormUserRepo(db *gorm.DB) *GormUserRepo {
	return &GormUserRepo{db: db}
}

func (r *GormUserRepo) GetActive(ctx context.Context, userID int64) (*domain.Identity, error) {
	var model UserModel
	err := r.db.WithContext(ctx).
		First(&model, "id = ? AND is_active = ?", userID, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	identity := &domain.Identity{
		UserID:     model.ID,
		Role:       model.Role,
		HospitalID: model.HospitalID,
	}
	if model.DeptID != nil {
		identity.DeptID = *model.DeptID
	}
	return identity, nil
}
