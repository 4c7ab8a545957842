package domain

import "time"

// Actor identifiers recorded in the audit trail.
const (
	ActorSystem     = "system"
	ActorNurse      = "nurse"
	ActorManager    = "manager"
	ActorPatientApp = "patient_app"
)

// AuditEntry is one append-only audit trail row. Entries are never
// updated; retention is handled by an out-of-band purge.
type AuditEntry struct {
	ID        int64
	CallID    *int64
	NurseID   *int64
	Action    string
	Actor     string
	Reason    *string
	Meta      map[string]any
	CreatedAt time.Time
}

// AuditFilters narrows audit queries. Zero values are ignored.
type AuditFilters struct {
	Action  string
	Actor   string
	CallID  int64
	NurseID int64
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}
