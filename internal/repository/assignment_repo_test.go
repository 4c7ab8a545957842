package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sncs/nursecall-engine/internal/domain"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func queueEntry(nurseID, position int64) DispatchQueueModel {
	return DispatchQueueModel{ID: nurseID, DeptID: 1, NurseID: nurseID, QueuePosition: position}
}

// moveToBack applies the post-assignment rotation: the assigned nurse
// takes department max position + 1.
func moveToBack(entries []DispatchQueueModel, nurseID int64) []DispatchQueueModel {
	var max int64
	for _, entry := range entries {
		if entry.QueuePosition > max {
			max = entry.QueuePosition
		}
	}
	for i := range entries {
		if entries[i].NurseID == nurseID {
			entries[i].QueuePosition = max + 1
		}
	}
	return entries
}

// recorder captures the statements a gorm session runs and whether its
// transaction committed, without a live database.
type recorder struct {
	mu         sync.Mutex
	statements []string
	committed  bool
	rolledBack bool
}

func (r *recorder) record(query string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statements = append(r.statements, query)
}

func (r *recorder) has(fragment string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stmt := range r.statements {
		if strings.Contains(stmt, fragment) {
			return true
		}
	}
	return false
}

type recordingConnector struct {
	rec *recorder
}

func (c recordingConnector) Connect(context.Context) (driver.Conn, error) {
	return &recordingConn{rec: c.rec}, nil
}

func (c recordingConnector) Driver() driver.Driver { return recordingDriver(c) }

type recordingDriver struct {
	rec *recorder
}

func (d recordingDriver) Open(string) (driver.Conn, error) {
	return &recordingConn{rec: d.rec}, nil
}

type recordingConn struct {
	rec *recorder
}

func (c *recordingConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("not implemented")
}
func (c *recordingConn) Close() error               { return nil }
func (c *recordingConn) Ping(context.Context) error { return nil }

func (c *recordingConn) Begin() (driver.Tx, error) {
	return &recordingTx{rec: c.rec}, nil
}

func (c *recordingConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return &recordingTx{rec: c.rec}, nil
}

func (c *recordingConn) CheckNamedValue(*driver.NamedValue) error { return nil }

func (c *recordingConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.rec.record(query)
	return driver.RowsAffected(1), nil
}

func (c *recordingConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.rec.record(query)
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "INSERT") {
		return &recordingRows{columns: []string{"id"}, values: [][]driver.Value{{int64(1)}}}, nil
	}
	return &recordingRows{columns: []string{"id"}}, nil
}

type recordingTx struct {
	rec *recorder
}

func (t *recordingTx) Commit() error {
	t.rec.mu.Lock()
	defer t.rec.mu.Unlock()
	t.rec.committed = true
	return nil
}

func (t *recordingTx) Rollback() error {
	t.rec.mu.Lock()
	defer t.rec.mu.Unlock()
	t.rec.rolledBack = true
	return nil
}

type recordingRows struct {
	columns []string
	values  [][]driver.Value
	pos     int
}

func (r *recordingRows) Columns() []string { return r.columns }
func (r *recordingRows) Close() error      { return nil }

func (r *recordingRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.pos])
	r.pos++
	return nil
}

func newRecordingDB(t *testing.T) (*gorm.DB, *recorder) {
	t.Helper()

	rec := &recorder{}
	sqlDB := sql.OpenDB(recordingConnector{rec: rec})
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("gorm.Open() error = %v", err)
	}
	return db, rec
}

// The no-nurse exit must leave a committed level-1 escalation row
// behind; reporting no-nurse through the transaction closure would
// roll the insert back.
func TestAssignWithLockNoNurseCommitsEscalation(t *testing.T) {
	t.Parallel()

	db, rec := newRecordingDB(t)
	repo := NewGormAssignmentRepo(db, nil)

	_, err := repo.AssignWithLock(context.Background(), 42, 3, time.Second)
	if !errors.Is(err, domain.ErrNoNurseAvailable) {
		t.Fatalf("AssignWithLock() error = %v, want ErrNoNurseAvailable", err)
	}

	if !rec.has("escalation_queue") {
		t.Fatalf("no escalation insert ran; statements = %v", rec.statements)
	}
	// Eligibility matches the routine: only available nurses count.
	if !rec.has("nurses.status") {
		t.Fatalf("candidate query does not filter on nurse status; statements = %v", rec.statements)
	}
	if !rec.committed {
		t.Fatal("escalation insert must commit on the no-nurse exit")
	}
	if rec.rolledBack {
		t.Fatal("no-nurse exit must not roll back")
	}
}

func TestNextInRotationPicksMinPosition(t *testing.T) {
	t.Parallel()

	entries := []DispatchQueueModel{
		queueEntry(5, 30),
		queueEntry(2, 10),
		queueEntry(9, 20),
	}

	next, duplicate, ok := nextInRotation(entries)
	if !ok {
		t.Fatal("nextInRotation() ok = false, want true")
	}
	if next.NurseID != 2 {
		t.Fatalf("nextInRotation() nurse = %d, want 2", next.NurseID)
	}
	if duplicate {
		t.Fatal("nextInRotation() duplicate = true, want false")
	}
}

func TestNextInRotationTieBreaksByNurseID(t *testing.T) {
	t.Parallel()

	entries := []DispatchQueueModel{
		queueEntry(7, 10),
		queueEntry(3, 10),
		queueEntry(8, 20),
	}

	next, duplicate, ok := nextInRotation(entries)
	if !ok {
		t.Fatal("nextInRotation() ok = false, want true")
	}
	if next.NurseID != 3 {
		t.Fatalf("nextInRotation() nurse = %d, want 3 (lowest id on tied position)", next.NurseID)
	}
	if !duplicate {
		t.Fatal("nextInRotation() duplicate = false, want true for a tied position")
	}
}

func TestNextInRotationEmpty(t *testing.T) {
	t.Parallel()

	if _, _, ok := nextInRotation(nil); ok {
		t.Fatal("nextInRotation(nil) ok = true, want false")
	}
}

// Every nurse in the rotation is assigned exactly once before anyone
// repeats, and the order is stable across full cycles.
func TestRotationFairness(t *testing.T) {
	t.Parallel()

	entries := []DispatchQueueModel{
		queueEntry(11, 1),
		queueEntry(12, 2),
		queueEntry(13, 3),
		queueEntry(14, 4),
	}

	var picks []int64
	for i := 0; i < 2*len(entries); i++ {
		next, _, ok := nextInRotation(entries)
		if !ok {
			t.Fatalf("pick %d: no assignee", i)
		}
		picks = append(picks, next.NurseID)
		entries = moveToBack(entries, next.NurseID)
	}

	want := []int64{11, 12, 13, 14, 11, 12, 13, 14}
	for i := range want {
		if picks[i] != want[i] {
			t.Fatalf("picks = %v, want %v", picks, want)
		}
	}

	seen := map[int64]bool{}
	for _, nurseID := range picks[:4] {
		if seen[nurseID] {
			t.Fatalf("nurse %d assigned twice within one cycle: %v", nurseID, picks[:4])
		}
		seen[nurseID] = true
	}
}
