package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/sncs/nursecall-engine/internal/domain"
	"gorm.io/gorm"
)

// EscalationCandidate is a call due for escalation at some level.
type EscalationCandidate struct {
	CallID     int64
	RoomID     int64
	DeptID     int64
	HospitalID int64
	NurseID    *int64
}

type EscalationRepository interface {
	// CandidatesForLevel returns calls older than the cutoff that lack a
	// record at the level. Level 1 scans pending/assigned calls; higher
	// levels additionally require the previous level's record and also
	// consider in-progress and escalated calls.
	CandidatesForLevel(ctx context.Context, level int, cutoff time.Time, limit int) ([]EscalationCandidate, error)

	// Escalate applies one ladder step atomically: escalation record,
	// status and priority update, audit entry, and broadcast event.
	Escalate(ctx context.Context, candidate EscalationCandidate, level domain.EscalationLevel) error

	Resolve(ctx context.Context, callID int64) error
	ListForCall(ctx context.Context, callID int64) ([]domain.EscalationRecord, error)
}

type GormEscalationRepo struct {
	db *gorm.DB
}

func NewGormEscalationRepo(db *gorm.DB) *GormEscalationRepo {
	return &GormEscalationRepo{db: db}
}

func (r *GormEscalationRepo) CandidatesForLevel(ctx context.Context, level int, cutoff time.Time, limit int) ([]EscalationCandidate, error) {
	if limit <= 0 {
		limit = 100
	}

	statuses := []domain.CallStatus{domain.CallPending, domain.CallAssigned}
	query := r.db.WithContext(ctx).
		Model(&CallModel{}).
		Select("calls.id AS call_id, calls.room_id, calls.dept_id, calls.hospital_id, calls.nurse_id").
		Joins("LEFT JOIN escalation_queue eq_curr ON calls.id = eq_curr.call_id AND eq_curr.level = ?", level).
		Where("eq_curr.id IS NULL").
		Where("calls.initiated_at < ?", cutoff)

	if level > domain.EscalationLevelMin {
		statuses = append(statuses, domain.CallInProgress, domain.CallEscalated)
		query = query.Joins("JOIN escalation_queue eq_prev ON calls.id = eq_prev.call_id AND eq_prev.level = ?", level-1)
	}

	var candidates []EscalationCandidate
	err := query.
		Where("calls.status IN ?", statuses).
		Order("calls.id ASC").
		Limit(limit).
		Scan(&candidates).Error
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

func (r *GormEscalationRepo) Escalate(ctx context.Context, candidate EscalationCandidate, level domain.EscalationLevel) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		record := EscalationModel{
			CallID:    candidate.CallID,
			Level:     level.Level,
			Reason:    level.Reason,
			CreatedAt: now,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		if err := tx.Model(&CallModel{}).
			Where("id = ?", candidate.CallID).
			Updates(map[string]any{
				"status":   domain.CallEscalated,
				"priority": gorm.Expr("priority + ?", level.PriorityBump),
			}).Error; err != nil {
			return err
		}

		reason := level.Reason
		audit := AuditModel{
			CallID:    &candidate.CallID,
			Action:    "escalation_l" + strconv.Itoa(level.Level),
			Actor:     domain.ActorSystem,
			Reason:    &reason,
			CreatedAt: now,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return err
		}

		payload, err := json.Marshal(map[string]any{
			"call_id": candidate.CallID,
			"level":   level.Level,
			"reason":  level.Reason,
		})
		if err != nil {
			return err
		}
		event := EventModel{
			Type:       domain.EventCallEscalated,
			Payload:    payload,
			DeptID:     candidate.DeptID,
			HospitalID: candidate.HospitalID,
			CreatedAt:  now,
		}
		return tx.Create(&event).Error
	})
}

func (r *GormEscalationRepo) Resolve(ctx context.Context, callID int64) error {
	return r.db.WithContext(ctx).
		Model(&EscalationModel{}).
		Where("call_id = ? AND resolved = ?", callID, false).
		Update("resolved", true).Error
}

func (r *GormEscalationRepo) ListForCall(ctx context.Context, callID int64) ([]domain.EscalationRecord, error) {
	var models []EscalationModel
	err := r.db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("level ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.EscalationRecord, 0, len(models))
	for _, m := range models {
		records = append(records, domain.EscalationRecord{
			ID:        m.ID,
			CallID:    m.CallID,
			Level:     m.Level,
			Reason:    m.Reason,
			Resolved:  m.Resolved,
			CreatedAt: m.CreatedAt,
		})
	}
	return records, nil
}
