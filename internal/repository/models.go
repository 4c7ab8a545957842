package repository

import (
	"encoding/json"
	"time"

	"github.com/sncs/nursecall-engine/internal/domain"
)

// CallModel is the persistence model for the calls table. Rows are
// never deleted; the table is the audit baseline for response times.
type CallModel struct {
	ID             int64             `gorm:"primaryKey;autoIncrement"`
	RoomID         int64             `gorm:"not null;index"`
	DeptID         int64             `gorm:"not null;index"`
	HospitalID     int64             `gorm:"not null;index"`
	Status         domain.CallStatus `gorm:"type:varchar(20);not null;index"`
	Priority       int               `gorm:"not null;default:0"`
	NurseID        *int64            `gorm:"index"`
	InitiatedBy    string            `gorm:"type:varchar(32);not null"`
	InitiatedAt    time.Time         `gorm:"type:timestamptz;not null"`
	AssignedAt     *time.Time        `gorm:"type:timestamptz"`
	AcceptedAt     *time.Time        `gorm:"type:timestamptz"`
	ArrivedAt      *time.Time        `gorm:"type:timestamptz"`
	CompletedAt    *time.Time        `gorm:"type:timestamptz"`
	ResponseTimeMS *int64
	Notes          string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (CallModel) TableName() string { return "calls" }

// DispatchQueueModel is the persistence model for dispatch_queue. One
// row per on-duty nurse per department.
type DispatchQueueModel struct {
	ID              int64   `gorm:"primaryKey;autoIncrement"`
	DeptID          int64   `gorm:"not null;uniqueIndex:idx_dispatch_dept_nurse"`
	NurseID         int64   `gorm:"not null;uniqueIndex:idx_dispatch_dept_nurse"`
	HospitalID      int64   `gorm:"not null"`
	QueuePosition   int64   `gorm:"not null"`
	IsExcluded      bool    `gorm:"not null;default:false"`
	ExcludedUntil   *time.Time `gorm:"type:timestamptz"`
	ExcludedBy      *int64
	ExclusionReason *string `gorm:"type:varchar(255)"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (DispatchQueueModel) TableName() string { return "dispatch_queue" }

// NurseModel is the persistence model for nurses.
type NurseModel struct {
	ID             int64              `gorm:"primaryKey;autoIncrement"`
	UserID         int64              `gorm:"not null;index"`
	Name           string             `gorm:"type:varchar(255);not null"`
	DeptID         int64              `gorm:"not null;index"`
	HospitalID     int64              `gorm:"not null;index"`
	Status         domain.NurseStatus `gorm:"type:varchar(16);not null;default:'offline'"`
	LastAssignedAt *time.Time         `gorm:"type:timestamptz"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (NurseModel) TableName() string { return "nurses" }

// ShiftModel is the persistence model for nurse_shifts.
type ShiftModel struct {
	ID         int64              `gorm:"primaryKey;autoIncrement"`
	NurseID    int64              `gorm:"not null;index"`
	DeptID     int64              `gorm:"not null"`
	HospitalID int64              `gorm:"not null"`
	Status     domain.ShiftStatus `gorm:"type:varchar(16);not null"`
	StartedAt  time.Time          `gorm:"type:timestamptz;not null"`
	EndedAt    *time.Time         `gorm:"type:timestamptz"`
	TotalCalls int                `gorm:"not null;default:0"`
}

func (ShiftModel) TableName() string { return "nurse_shifts" }

// RoomModel is the persistence model for rooms.
type RoomModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	RoomNumber string `gorm:"type:varchar(32);not null"`
	DeptID     int64  `gorm:"not null;index"`
	HospitalID int64  `gorm:"not null;index"`
	IsActive   bool   `gorm:"not null;default:true"`
	CreatedAt  time.Time
}

func (RoomModel) TableName() string { return "rooms" }

// EscalationModel is the persistence model for escalation_queue.
type EscalationModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	CallID    int64  `gorm:"not null;uniqueIndex:idx_escalation_call_level"`
	Level     int    `gorm:"not null;uniqueIndex:idx_escalation_call_level"`
	Reason    string `gorm:"type:varchar(64);not null"`
	Resolved  bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
}

func (EscalationModel) TableName() string { return "escalation_queue" }

// EventModel is the persistence model for the events outbox.
type EventModel struct {
	ID         int64            `gorm:"primaryKey;autoIncrement"`
	Type       domain.EventType `gorm:"type:varchar(32);not null"`
	Payload    []byte           `gorm:"type:jsonb;not null"`
	DeptID     int64            `gorm:"not null"`
	HospitalID int64            `gorm:"not null"`
	Broadcast  bool             `gorm:"column:is_broadcast;not null;default:false"`
	CreatedAt  time.Time        `gorm:"type:timestamptz;not null"`
}

func (EventModel) TableName() string { return "events" }

// AuditModel is the persistence model for audit_log.
type AuditModel struct {
	ID        int64   `gorm:"primaryKey;autoIncrement"`
	CallID    *int64  `gorm:"index"`
	NurseID   *int64  `gorm:"index"`
	Action    string  `gorm:"type:varchar(64);not null;index"`
	Actor     string  `gorm:"type:varchar(64);not null"`
	Reason    *string `gorm:"type:text"`
	MetaJSON  []byte  `gorm:"column:meta_json;type:jsonb"`
	CreatedAt time.Time
}

func (AuditModel) TableName() string { return "audit_log" }

// RateLimitModel is the persistence model for rate_limits counters.
type RateLimitModel struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	ClientKey     string    `gorm:"column:ip;type:varchar(64);not null;index:idx_rate_limits_key_group"`
	EndpointGroup string    `gorm:"type:varchar(32);not null;index:idx_rate_limits_key_group"`
	CreatedAt     time.Time `gorm:"type:timestamptz;not null;index"`
}

func (RateLimitModel) TableName() string { return "rate_limits" }

// UserModel is the persistence model for users. Only the columns the
// realtime authenticator needs; account management lives upstream.
type UserModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Role       string `gorm:"type:varchar(32);not null"`
	HospitalID int64  `gorm:"not null"`
	DeptID     *int64
	IsActive   bool `gorm:"not null;default:true"`
	CreatedAt  time.Time
}

func (UserModel) TableName() string { return "users" }

func callModelToDomain(m *CallModel) *domain.Call {
	if m == nil {
		return nil
	}

	return &domain.Call{
		ID:             m.ID,
		RoomID:         m.RoomID,
		DeptID:         m.DeptID,
		HospitalID:     m.HospitalID,
		Status:         m.Status,
		Priority:       m.Priority,
		NurseID:        m.NurseID,
		InitiatedBy:    m.InitiatedBy,
		InitiatedAt:    m.InitiatedAt,
		AssignedAt:     m.AssignedAt,
		AcceptedAt:     m.AcceptedAt,
		ArrivedAt:      m.ArrivedAt,
		CompletedAt:    m.CompletedAt,
		ResponseTimeMS: m.ResponseTimeMS,
		Notes:          m.Notes,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func callModelFromDomain(c *domain.Call) *CallModel {
	if c == nil {
		return nil
	}

	return &CallModel{
		ID:             c.ID,
		RoomID:         c.RoomID,
		DeptID:         c.DeptID,
		HospitalID:     c.HospitalID,
		Status:         c.Status,
		Priority:       c.Priority,
		NurseID:        c.NurseID,
		InitiatedBy:    c.InitiatedBy,
		InitiatedAt:    c.InitiatedAt,
		AssignedAt:     c.AssignedAt,
		AcceptedAt:     c.AcceptedAt,
		ArrivedAt:      c.ArrivedAt,
		CompletedAt:    c.CompletedAt,
		ResponseTimeMS: c.ResponseTimeMS,
		Notes:          c.Notes,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func queueModelToDomain(m *DispatchQueueModel) *domain.DispatchQueueEntry {
	if m == nil {
		return nil
	}

	return &domain.DispatchQueueEntry{
		ID:              m.ID,
		DeptID:          m.DeptID,
		NurseID:         m.NurseID,
		HospitalID:      m.HospitalID,
		QueuePosition:   m.QueuePosition,
		IsExcluded:      m.IsExcluded,
		ExcludedUntil:   m.ExcludedUntil,
		ExcludedBy:      m.ExcludedBy,
		ExclusionReason: m.ExclusionReason,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func nurseModelToDomain(m *NurseModel) *domain.Nurse {
	if m == nil {
		return nil
	}

	return &domain.Nurse{
		ID:             m.ID,
		UserID:         m.UserID,
		Name:           m.Name,
		DeptID:         m.DeptID,
		HospitalID:     m.HospitalID,
		Status:         m.Status,
		LastAssignedAt: m.LastAssignedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func eventModelToDomain(m *EventModel) *domain.Event {
	if m == nil {
		return nil
	}

	return &domain.Event{
		ID:         m.ID,
		Type:       m.Type,
		Payload:    json.RawMessage(m.Payload),
		DeptID:     m.DeptID,
		HospitalID: m.HospitalID,
		Broadcast:  m.Broadcast,
		CreatedAt:  m.CreatedAt,
	}
}

func auditModelFromDomain(e *domain.AuditEntry) (*AuditModel, error) {
	if e == nil {
		return nil, nil
	}

	var meta []byte
	if len(e.Meta) > 0 {
		encoded, err := json.Marshal(e.Meta)
		if err != nil {
			return nil, err
		}
		meta = encoded
	}

	return &AuditModel{
		ID:        e.ID,
		CallID:    e.CallID,
		NurseID:   e.NurseID,
		Action:    e.Action,
		Actor:     e.Actor,
		Reason:    e.Reason,
		MetaJSON:  meta,
		CreatedAt: e.CreatedAt,
	}, nil
}

func auditModelToDomain(m *AuditModel) *domain.AuditEntry {
	if m == nil {
		return nil
	}

	entry := &domain.AuditEntry{
		ID:        m.ID,
		CallID:    m.CallID,
		NurseID:   m.NurseID,
		Action:    m.Action,
		Actor:     m.Actor,
		Reason:    m.Reason,
		CreatedAt: m.CreatedAt,
	}
	if len(m.MetaJSON) > 0 {
		_ = json.Unmarshal(m.MetaJSON, &entry.Meta)
	}
	return entry
}
