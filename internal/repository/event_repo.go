package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sncs/nursecall-engine/internal/domain"
	"gorm.io/gorm"
)

// EventRepository is the append-only outbox. Writers append with
// broadcast=false; the bridge reads by strictly increasing id and bulk
// marks processed rows.
type EventRepository interface {
	Append(ctx context.Context, eventType domain.EventType, payload any, deptID, hospitalID int64) error
	MaxID(ctx context.Context) (int64, error)
	FetchUnbroadcast(ctx context.Context, afterID int64, limit int) ([]domain.Event, error)
	MarkBroadcast(ctx context.Context, ids []int64) error
	PurgeBroadcastBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormEventRepo struct {
	db *gorm.DB
}

func NewGormEventRepo(db *gorm.DB) *GormEventRepo {
	return &GormEventRepo{db: db}
}

func (r *GormEventRepo) Append(ctx context.Context, eventType domain.EventType, payload any, deptID, hospitalID int64) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	model := EventModel{
		Type:       eventType,
		Payload:    encoded,
		DeptID:     deptID,
		HospitalID: hospitalID,
		CreatedAt:  time.Now().UTC(),
	}
	event := eventModelToDomain(&model)
	if err := event.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

// MaxID returns the current highest event id, used to seed the bridge
// cursor on restart so history is not replayed.
func (r *GormEventRepo) MaxID(ctx context.Context) (int64, error) {
	var maxID int64
	err := r.db.WithContext(ctx).
		Model(&EventModel{}).
		Select("COALESCE(MAX(id), 0)").
		Scan(&maxID).Error
	return maxID, err
}

func (r *GormEventRepo) FetchUnbroadcast(ctx context.Context, afterID int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}

	var models []EventModel
	err := r.db.WithContext(ctx).
		Where("id > ? AND is_broadcast = ?", afterID, false).
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.Event, 0, len(models))
	for i := range models {
		events = append(events, *eventModelToDomain(&models[i]))
	}
	return events, nil
}

func (r *GormEventRepo) MarkBroadcast(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&EventModel{}).
		Where("id IN ?", ids).
		Update("is_broadcast", true).Error
}

func (r *GormEventRepo) PurgeBroadcastBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("is_broadcast = ? AND created_at < ?", true, cutoff).
		Delete(&EventModel{})
	return result.RowsAffected, result.Error
}
