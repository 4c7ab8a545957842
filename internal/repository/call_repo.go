package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sncs/nursecall-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ActiveCallFilters narrows active-call queries. Zero values are ignored.
type ActiveCallFilters struct {
	HospitalID int64
	DeptID     int64
	NurseID    int64
	Status     *domain.CallStatus
}

// ActiveCall is a call row joined with its room number and nurse name
// for dashboard listings.
type ActiveCall struct {
	domain.Call
	RoomNumber string
	NurseName  *string
}

// TransitionUpdate carries one state machine transition through the
// transactional apply: the conditional status update, its audit row,
// and its outbox event all commit or roll back together.
type TransitionUpdate struct {
	CallID     int64
	HospitalID int64
	Action     domain.CallAction
	ActorID    int64
	Notes      string
	Now        time.Time
}

type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, id, hospitalID int64) (*domain.Call, error)
	CountActiveForRoom(ctx context.Context, roomID int64, since time.Time) (int64, error)
	CountActiveForNurse(ctx context.Context, nurseID int64) (int64, error)
	ApplyTransition(ctx context.Context, update TransitionUpdate) (*domain.Call, error)
	ListActive(ctx context.Context, filters ActiveCallFilters) ([]ActiveCall, error)
	GetRoom(ctx context.Context, roomID, hospitalID int64) (*domain.Room, error)
}

type GormCallRepo struct {
	db *gorm.DB
}

func NewGormCallRepo(db *gorm.DB) *GormCallRepo {
	return &GormCallRepo{db: db}
}

// Create inserts the call together with its audit row in one
// transaction. The call_created outbox event is appended by the service
// once assignment has settled, so it carries the resolved status.
func (r *GormCallRepo) Create(ctx context.Context, call *domain.Call) error {
	model := callModelFromDomain(call)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}

		audit := AuditModel{
			CallID:    &model.ID,
			Action:    string(domain.EventCallCreated),
			Actor:     domain.ActorPatientApp,
			CreatedAt: model.InitiatedAt,
		}
		return tx.Create(&audit).Error
	})
	if err != nil {
		return err
	}
	if call != nil {
		*call = *callModelToDomain(model)
	}
	return nil
}

func (r *GormCallRepo) GetByID(ctx context.Context, id, hospitalID int64) (*domain.Call, error) {
	var model CallModel
	err := r.db.WithContext(ctx).
		First(&model, "id = ? AND hospital_id = ?", id, hospitalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return callModelToDomain(&model), nil
}

func (r *GormCallRepo) GetRoom(ctx context.Context, roomID, hospitalID int64) (*domain.Room, error) {
	var model RoomModel
	err := r.db.WithContext(ctx).
		First(&model, "id = ? AND hospital_id = ? AND is_active = ?", roomID, hospitalID, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &domain.Room{
		ID:         model.ID,
		RoomNumber: model.RoomNumber,
		DeptID:     model.DeptID,
		HospitalID: model.HospitalID,
		IsActive:   model.IsActive,
		CreatedAt:  model.CreatedAt,
	}, nil
}

func (r *GormCallRepo) CountActiveForRoom(ctx context.Context, roomID int64, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&CallModel{}).
		Where("room_id = ? AND status IN ? AND initiated_at >= ?", roomID, domain.ActiveCallStatuses, since).
		Count(&count).Error
	return count, err
}

func (r *GormCallRepo) CountActiveForNurse(ctx context.Context, nurseID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&CallModel{}).
		Where("nurse_id = ? AND status IN ?", nurseID, []domain.CallStatus{domain.CallAssigned, domain.CallInProgress}).
		Count(&count).Error
	return count, err
}

// ApplyTransition runs the full state machine step in one transaction:
// lock the call row, validate the action against the current status,
// update status and timestamps, return the nurse to available on
// completion, and write the audit row and outbox event.
func (r *GormCallRepo) ApplyTransition(ctx context.Context, update TransitionUpdate) (*domain.Call, error) {
	var updated *domain.Call

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model CallModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ? AND hospital_id = ?", update.CallID, update.HospitalID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		transition, err := domain.TransitionFor(update.Action, model.Status)
		if err != nil {
			return err
		}

		now := update.Now
		if now.IsZero() {
			now = time.Now().UTC()
		}

		changes := map[string]any{"status": transition.To}
		switch transition.Stamp {
		case "accepted_at":
			changes["accepted_at"] = now
		case "arrived_at":
			changes["arrived_at"] = now
		case "completed_at":
			changes["completed_at"] = now
		}

		if update.Action == domain.ActionComplete {
			responseMS := now.Sub(model.InitiatedAt).Milliseconds()
			changes["response_time_ms"] = responseMS
			if update.Notes != "" {
				changes["notes"] = update.Notes
			}
			if model.NurseID != nil {
				if err := tx.Model(&NurseModel{}).
					Where("id = ?", *model.NurseID).
					Update("status", domain.NurseAvailable).Error; err != nil {
					return err
				}
			}
		}

		if err := tx.Model(&CallModel{}).Where("id = ?", model.ID).Updates(changes).Error; err != nil {
			return err
		}

		var reason *string
		if update.Notes != "" {
			notes := update.Notes
			reason = &notes
		}
		audit := AuditModel{
			CallID:    &model.ID,
			NurseID:   &update.ActorID,
			Action:    "call_" + update.Action.String(),
			Actor:     domain.ActorNurse,
			Reason:    reason,
			CreatedAt: now,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return err
		}

		payload, err := json.Marshal(map[string]any{
			"call_id":  model.ID,
			"nurse_id": update.ActorID,
			"status":   transition.To,
		})
		if err != nil {
			return err
		}
		event := EventModel{
			Type:       domain.EventTypeForAction(update.Action),
			Payload:    payload,
			DeptID:     model.DeptID,
			HospitalID: model.HospitalID,
			CreatedAt:  now,
		}
		if err := tx.Create(&event).Error; err != nil {
			return err
		}

		if err := tx.First(&model, "id = ?", model.ID).Error; err != nil {
			return err
		}
		updated = callModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (r *GormCallRepo) ListActive(ctx context.Context, filters ActiveCallFilters) ([]ActiveCall, error) {
	query := r.db.WithContext(ctx).
		Model(&CallModel{}).
		Select("calls.*, rooms.room_number AS room_number, nurses.name AS nurse_name").
		Joins("LEFT JOIN rooms ON calls.room_id = rooms.id").
		Joins("LEFT JOIN nurses ON calls.nurse_id = nurses.id").
		Where("calls.hospital_id = ?", filters.HospitalID)

	if filters.DeptID > 0 {
		query = query.Where("calls.dept_id = ?", filters.DeptID)
	}
	if filters.NurseID > 0 {
		query = query.Where("calls.nurse_id = ?", filters.NurseID)
	}
	if filters.Status != nil {
		query = query.Where("calls.status = ?", *filters.Status)
	} else {
		query = query.Where("calls.status IN ?", domain.ActiveCallStatuses)
	}

	type row struct {
		CallModel
		RoomNumber string
		NurseName  *string
	}

	var rows []row
	err := query.
		Order("calls.priority DESC, calls.initiated_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	calls := make([]ActiveCall, 0, len(rows))
	for i := range rows {
		calls = append(calls, ActiveCall{
			Call:       *callModelToDomain(&rows[i].CallModel),
			RoomNumber: rows[i].RoomNumber,
			NurseName:  rows[i].NurseName,
		})
	}
	return calls, nil
}
