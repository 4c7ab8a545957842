package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// RateLimitRepository backs the sliding-window limiter with counter
// rows. Best-effort under race: no lock spans the count and insert.
type RateLimitRepository interface {
	DeleteExpired(ctx context.Context, group string, cutoff time.Time) error
	CountInWindow(ctx context.Context, clientKey, group string, since time.Time) (int64, error)
	Record(ctx context.Context, clientKey, group string) error
}

type GormRateLimitRepo struct {
	db *gorm.DB
}

func NewGormRateLimitRepo(db *gorm.DB) *GormRateLimitRepo {
	return &GormRateLimitRepo{db: db}
}

func (r *GormRateLimitRepo) DeleteExpired(ctx context.Context, group string, cutoff time.Time) error {
	return r.db.WithContext(ctx).
		Where("endpoint_group = ? AND created_at < ?", group, cutoff).
		Delete(&RateLimitModel{}).Error
}

func (r *GormRateLimitRepo) CountInWindow(ctx context.Context, clientKey, group string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&RateLimitModel{}).
		Where("ip = ? AND endpoint_group = ? AND created_at >= ?", clientKey, group, since).
		Count(&count).Error
	return count, err
}

func (r *GormRateLimitRepo) Record(ctx context.Context, clientKey, group string) error {
	return r.db.WithContext(ctx).Create(&RateLimitModel{
		ClientKey:     clientKey,
		EndpointGroup: group,
		CreatedAt:     time.Now().UTC(),
	}).Error
}
