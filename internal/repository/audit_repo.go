package repository

import (
	"context"
	"time"

	"github.com/sncs/nursecall-engine/internal/domain"
	"gorm.io/gorm"
)

type AuditRepository interface {
	Log(ctx context.Context, entry *domain.AuditEntry) error
	Query(ctx context.Context, filters domain.AuditFilters) ([]domain.AuditEntry, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormAuditRepo struct {
	db *gorm.DB
}

func NewGormAuditRepo(db *gorm.DB) *GormAuditRepo {
	return &GormAuditRepo{db: db}
}

func (r *GormAuditRepo) Log(ctx context.Context, entry *domain.AuditEntry) error {
	if entry.Actor == "" {
		entry.Actor = domain.ActorSystem
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	model, err := auditModelFromDomain(entry)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *GormAuditRepo) Query(ctx context.Context, filters domain.AuditFilters) ([]domain.AuditEntry, error) {
	query := r.db.WithContext(ctx).Model(&AuditModel{})

	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.Actor != "" {
		query = query.Where("actor = ?", filters.Actor)
	}
	if filters.CallID > 0 {
		query = query.Where("call_id = ?", filters.CallID)
	}
	if filters.NurseID > 0 {
		query = query.Where("nurse_id = ?", filters.NurseID)
	}
	if filters.From != nil {
		query = query.Where("created_at >= ?", *filters.From)
	}
	if filters.To != nil {
		query = query.Where("created_at <= ?", *filters.To)
	}

	limit := filters.Limit
	if limit < 1 {
		limit = 100
	}
	limit = min(limit, 500)
	offset := max(filters.Offset, 0)

	var models []AuditModel
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.AuditEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *auditModelToDomain(&models[i]))
	}
	return entries, nil
}

func (r *GormAuditRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&AuditModel{})
	return result.RowsAffected, result.Error
}
