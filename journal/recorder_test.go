package journal_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/circulation"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/journal"
	"github.com/xraph/circulate/sched"
)

// ── Mock store ───────────────────────────────────────

type mockStore struct {
	mu      sync.Mutex
	entries []*journal.Entry
	fail    error
}

func (m *mockStore) AppendEntry(_ context.Context, e *journal.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockStore) GetEntry(context.Context, id.JournalID) (*journal.Entry, error) {
	return nil, errors.New("not implemented")
}

func (m *mockStore) ListEntries(context.Context, journal.Filter) ([]*journal.Entry, error) {
	return nil, errors.New("not implemented")
}

func (m *mockStore) CountEntries(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.entries)), nil
}

func (m *mockStore) PurgeEntries(context.Context, time.Time) (int64, error) {
	return 0, errors.New("not implemented")
}

func (m *mockStore) last() *journal.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return nil
	}
	return m.entries[len(m.entries)-1]
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// ── Test helpers ─────────────────────────────────────

func newBorrowTask() (*sched.Task, *circulation.Op) {
	op := &circulation.Op{
		Kind:     circulation.KindBorrow,
		Actor:    id.NewMemberID(),
		BookID:   id.NewBookID(),
		MemberID: id.NewMemberID(),
	}
	t := &sched.Task{
		ID:        id.NewTaskID(),
		Label:     op.Label(),
		Actor:     op.Actor,
		Data:      op,
		StartedAt: time.Now().Add(-40 * time.Millisecond),
	}
	return t, op
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ── Tests ────────────────────────────────────────────

func TestRecorder_Name(t *testing.T) {
	r := journal.NewRecorder(&mockStore{})
	if r.Name() != "journal" {
		t.Errorf("Name: want %q, got %q", "journal", r.Name())
	}
}

func TestRecorder_TaskCompleted(t *testing.T) {
	store := &mockStore{}
	r := journal.NewRecorder(store)
	task, op := newBorrowTask()

	if err := r.OnTaskCompleted(context.Background(), task, 120*time.Millisecond); err != nil {
		t.Fatalf("OnTaskCompleted: %v", err)
	}

	e := store.last()
	if e == nil {
		t.Fatal("no entry appended")
	}
	if e.ID.IsNil() || e.ID.Prefix() != id.PrefixJournal {
		t.Errorf("ID: want jrnl prefix, got %q", e.ID)
	}
	if e.TaskID != task.ID {
		t.Errorf("TaskID: want %s, got %s", task.ID, e.TaskID)
	}
	if e.Label != "loan.borrow" {
		t.Errorf("Label: want %q, got %q", "loan.borrow", e.Label)
	}
	if e.Kind != circulation.KindBorrow {
		t.Errorf("Kind: want %q, got %q", circulation.KindBorrow, e.Kind)
	}
	if e.Actor != op.Actor {
		t.Errorf("Actor: want %s, got %s", op.Actor, e.Actor)
	}
	if e.BookID != op.BookID {
		t.Errorf("BookID: want %s, got %s", op.BookID, e.BookID)
	}
	if e.MemberID != op.MemberID {
		t.Errorf("MemberID: want %s, got %s", op.MemberID, e.MemberID)
	}
	if e.Outcome != journal.OutcomeSuccess {
		t.Errorf("Outcome: want %q, got %q", journal.OutcomeSuccess, e.Outcome)
	}
	if e.Error != "" {
		t.Errorf("Error: want empty, got %q", e.Error)
	}
	if e.ElapsedMS != 120 {
		t.Errorf("ElapsedMS: want 120, got %d", e.ElapsedMS)
	}
	if e.RecordedAt.IsZero() {
		t.Error("RecordedAt not set")
	}
}

func TestRecorder_TaskFailed(t *testing.T) {
	store := &mockStore{}
	r := journal.NewRecorder(store)
	task, _ := newBorrowTask()

	if err := r.OnTaskFailed(context.Background(), task, errors.New("no copies available")); err != nil {
		t.Fatalf("OnTaskFailed: %v", err)
	}

	e := store.last()
	if e == nil {
		t.Fatal("no entry appended")
	}
	if e.Outcome != journal.OutcomeFailure {
		t.Errorf("Outcome: want %q, got %q", journal.OutcomeFailure, e.Outcome)
	}
	if e.Error != "no copies available" {
		t.Errorf("Error: want %q, got %q", "no copies available", e.Error)
	}
	if e.ElapsedMS <= 0 {
		t.Errorf("ElapsedMS: want > 0 for a started task, got %d", e.ElapsedMS)
	}
}

func TestRecorder_TaskWithoutOp(t *testing.T) {
	store := &mockStore{}
	r := journal.NewRecorder(store)
	task := &sched.Task{
		ID:    id.NewTaskID(),
		Label: "maintenance.vacuum",
	}

	if err := r.OnTaskCompleted(context.Background(), task, time.Millisecond); err != nil {
		t.Fatalf("OnTaskCompleted: %v", err)
	}

	e := store.last()
	if e == nil {
		t.Fatal("no entry appended")
	}
	if e.Label != "maintenance.vacuum" {
		t.Errorf("Label: want %q, got %q", "maintenance.vacuum", e.Label)
	}
	if e.Kind != "" {
		t.Errorf("Kind: want empty for op-less task, got %q", e.Kind)
	}
	if !e.BookID.IsNil() {
		t.Errorf("BookID: want nil, got %s", e.BookID)
	}
}

func TestRecorder_BookIDFromOpBook(t *testing.T) {
	store := &mockStore{}
	r := journal.NewRecorder(store)

	bookID := id.NewBookID()
	op := &circulation.Op{
		Kind: circulation.KindUpdateBook,
		Book: &catalog.Book{ID: bookID, Title: "Dune"},
	}
	task := &sched.Task{ID: id.NewTaskID(), Label: op.Label(), Data: op}

	if err := r.OnTaskCompleted(context.Background(), task, time.Millisecond); err != nil {
		t.Fatalf("OnTaskCompleted: %v", err)
	}

	if e := store.last(); e.BookID != bookID {
		t.Errorf("BookID: want %s from op.Book, got %s", bookID, e.BookID)
	}
}

func TestRecorder_LabelFilter(t *testing.T) {
	store := &mockStore{}
	r := journal.NewRecorder(store, journal.WithLabels("loan.borrow"))

	borrowed, _ := newBorrowTask()
	other := &sched.Task{ID: id.NewTaskID(), Label: "book.add"}

	ctx := context.Background()
	_ = r.OnTaskCompleted(ctx, borrowed, time.Millisecond)
	_ = r.OnTaskCompleted(ctx, other, time.Millisecond)

	if store.count() != 1 {
		t.Fatalf("want 1 entry after filtering, got %d", store.count())
	}
	if e := store.last(); e.Label != "loan.borrow" {
		t.Errorf("Label: want %q, got %q", "loan.borrow", e.Label)
	}
}

func TestRecorder_AppendFailureNotPropagated(t *testing.T) {
	store := &mockStore{fail: errors.New("disk full")}
	r := journal.NewRecorder(store, journal.WithLogger(quietLogger()))
	task, _ := newBorrowTask()

	if err := r.OnTaskCompleted(context.Background(), task, time.Millisecond); err != nil {
		t.Fatalf("append failures must not propagate, got %v", err)
	}
	if store.count() != 0 {
		t.Fatalf("want 0 entries, got %d", store.count())
	}
}
