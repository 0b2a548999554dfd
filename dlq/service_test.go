package dlq_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/backoff"
	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/circulation"
	"github.com/xraph/circulate/dlq"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/sched"
	"github.com/xraph/circulate/store/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness wires a DLQ service over a shared memory store and a live
// circulation service, the way the engine does.
type harness struct {
	store *memory.Store
	circ  *circulation.Service
	dlq   *dlq.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st := memory.New()
	scheduler := sched.New(sched.WithConcurrency(2), sched.WithLogger(quietLogger()))
	circ := circulation.NewService(st, scheduler, circulation.WithLogger(quietLogger()))
	svc := dlq.NewService(st, circ,
		dlq.WithLogger(quietLogger()),
		dlq.WithBackoff(backoff.NewConstant(0)),
	)
	return &harness{store: st, circ: circ, dlq: svc}
}

func (h *harness) seedBook(t *testing.T, isbn string, total, available int) *catalog.Book {
	t.Helper()

	b := &catalog.Book{
		Entity:          circulate.NewEntity(),
		ID:              id.NewBookID(),
		ISBN:            isbn,
		Title:           "Test Book",
		Author:          "Test Author",
		CopiesTotal:     total,
		CopiesAvailable: available,
	}
	if err := h.store.CreateBook(context.Background(), b); err != nil {
		t.Fatalf("seed book: %v", err)
	}
	return b
}

func (h *harness) seedMember(t *testing.T, name string) *catalog.Member {
	t.Helper()

	m := &catalog.Member{
		Entity: circulate.NewEntity(),
		ID:     id.NewMemberID(),
		Name:   name,
		Email:  name + "@library.test",
		Role:   catalog.RoleMember,
	}
	if err := h.store.CreateMember(context.Background(), m); err != nil {
		t.Fatalf("seed member: %v", err)
	}
	return m
}

// failedTask builds the task a failed op would have ridden on.
func failedTask(op *circulation.Op) *sched.Task {
	return &sched.Task{
		ID:    id.NewTaskID(),
		Label: op.Label(),
		Data:  op,
	}
}

func waitOutcome(t *testing.T, out *sched.Outcome) (any, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return out.Wait(ctx)
}

// ──────────────────────────────────────────────────
// Push
// ──────────────────────────────────────────────────

func TestPush(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	op := &circulation.Op{
		Kind:     circulation.KindBorrow,
		BookID:   id.NewBookID(),
		MemberID: id.NewMemberID(),
	}
	task := failedTask(op)

	if err := h.dlq.Push(ctx, task, op, circulate.ErrNoCopies); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := h.store.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	e := entries[0]
	if e.TaskID != task.ID {
		t.Fatal("entry should reference the failed task")
	}
	if e.Label != "loan.borrow" {
		t.Fatalf("label = %q", e.Label)
	}
	if e.Error != circulate.ErrNoCopies.Error() {
		t.Fatalf("error = %q", e.Error)
	}
	if e.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1 for a first failure", e.Attempts)
	}
	if e.Replayed() {
		t.Fatal("fresh entry should not be marked replayed")
	}
	if e.Op == nil || e.Op.Kind != circulation.KindBorrow {
		t.Fatal("entry should retain the op for replay")
	}
}

func TestPushContinuesAttemptCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// An op that already failed twice before this submission.
	op := &circulation.Op{
		Kind:     circulation.KindBorrow,
		BookID:   id.NewBookID(),
		MemberID: id.NewMemberID(),
		Attempt:  2,
	}

	if err := h.dlq.Push(ctx, failedTask(op), op, circulate.ErrNoCopies); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, _ := h.store.ListDLQ(ctx, dlq.ListOpts{})
	if entries[0].Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", entries[0].Attempts)
	}
}

// ──────────────────────────────────────────────────
// Capture
// ──────────────────────────────────────────────────

func TestCapture(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	capture := dlq.NewCapture(h.dlq, quietLogger())

	if capture.Name() != "dlq-capture" {
		t.Fatalf("name = %q", capture.Name())
	}

	op := &circulation.Op{
		Kind:     circulation.KindBorrow,
		BookID:   id.NewBookID(),
		MemberID: id.NewMemberID(),
	}
	if err := capture.OnTaskFailed(ctx, failedTask(op), circulate.ErrNoCopies); err != nil {
		t.Fatalf("OnTaskFailed: %v", err)
	}

	count, _ := h.store.CountDLQ(ctx)
	if count != 1 {
		t.Fatalf("got %d entries, want 1", count)
	}
}

func TestCaptureIgnoresTasksWithoutOp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	capture := dlq.NewCapture(h.dlq, quietLogger())

	task := &sched.Task{ID: id.NewTaskID(), Label: "maintenance.vacuum"}
	if err := capture.OnTaskFailed(ctx, task, errors.New("disk full")); err != nil {
		t.Fatalf("OnTaskFailed: %v", err)
	}

	count, _ := h.store.CountDLQ(ctx)
	if count != 0 {
		t.Fatalf("got %d entries, want none for an op-less task", count)
	}
}

// ──────────────────────────────────────────────────
// Replay
// ──────────────────────────────────────────────────

func TestReplaySucceedsAfterFix(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// A borrow that failed because the shelf was empty.
	b := h.seedBook(t, "9780441172719", 1, 0)
	m := h.seedMember(t, "ada")
	op := &circulation.Op{Kind: circulation.KindBorrow, BookID: b.ID, MemberID: m.ID}
	if err := h.dlq.Push(ctx, failedTask(op), op, circulate.ErrNoCopies); err != nil {
		t.Fatalf("Push: %v", err)
	}
	entries, _ := h.store.ListDLQ(ctx, dlq.ListOpts{})
	entry := entries[0]

	// A copy comes back; the replay can now succeed.
	if _, err := h.store.AdjustCopies(ctx, b.ID, +1); err != nil {
		t.Fatalf("AdjustCopies: %v", err)
	}

	out, err := h.dlq.Replay(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	v, err := waitOutcome(t, out)
	if err != nil {
		t.Fatalf("replayed outcome: %v", err)
	}
	loan, ok := v.(*catalog.Loan)
	if !ok {
		t.Fatalf("outcome value is %T, want *catalog.Loan", v)
	}
	if loan.MemberID != m.ID {
		t.Fatal("replayed loan references wrong member")
	}

	got, _ := h.store.GetDLQ(ctx, entry.ID)
	if !got.Replayed() {
		t.Fatal("entry should be marked replayed")
	}
}

func TestReplayMarksEvenWhenOpFailsAgain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Still no copies; the replayed op fails on its own outcome.
	b := h.seedBook(t, "9780441172719", 1, 0)
	m := h.seedMember(t, "ada")
	op := &circulation.Op{Kind: circulation.KindBorrow, BookID: b.ID, MemberID: m.ID}
	if err := h.dlq.Push(ctx, failedTask(op), op, circulate.ErrNoCopies); err != nil {
		t.Fatalf("Push: %v", err)
	}
	entries, _ := h.store.ListDLQ(ctx, dlq.ListOpts{})
	entry := entries[0]

	out, err := h.dlq.Replay(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if _, werr := waitOutcome(t, out); !errors.Is(werr, circulate.ErrNoCopies) {
		t.Fatalf("got %v, want ErrNoCopies on the outcome", werr)
	}

	// Submission happened, so the entry is consumed either way.
	got, _ := h.store.GetDLQ(ctx, entry.ID)
	if !got.Replayed() {
		t.Fatal("entry should be marked replayed after submission")
	}
}

func TestReplayErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	opless := &dlq.Entry{
		ID:        id.NewDLQID(),
		TaskID:    id.NewTaskID(),
		Label:     "loan.borrow",
		Error:     "no copies available",
		Attempts:  1,
		FailedAt:  time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.PushDLQ(ctx, opless); err != nil {
		t.Fatalf("PushDLQ: %v", err)
	}

	tests := []struct {
		name    string
		entryID id.DLQID
		wantErr error
	}{
		{"unknown entry", id.NewDLQID(), circulate.ErrDLQNotFound},
		{"entry without op", opless.ID, circulate.ErrBadOp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.dlq.Replay(ctx, tt.entryID); !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReplayAdvancesAttempt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	capture := dlq.NewCapture(h.dlq, quietLogger())

	b := h.seedBook(t, "9780441172719", 1, 0)
	m := h.seedMember(t, "ada")
	op := &circulation.Op{Kind: circulation.KindBorrow, BookID: b.ID, MemberID: m.ID}
	if err := h.dlq.Push(ctx, failedTask(op), op, circulate.ErrNoCopies); err != nil {
		t.Fatalf("Push: %v", err)
	}
	entries, _ := h.store.ListDLQ(ctx, dlq.ListOpts{})
	first := entries[0]

	// Replay fails again; capture the re-failure the way the engine would.
	out, err := h.dlq.Replay(ctx, first.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	_, werr := waitOutcome(t, out)
	if werr == nil {
		t.Fatal("expected the replay to fail again")
	}
	replayedOp := *first.Op
	replayedOp.Attempt = first.Attempts
	if err := capture.OnTaskFailed(ctx, failedTask(&replayedOp), werr); err != nil {
		t.Fatalf("OnTaskFailed: %v", err)
	}

	pending, _ := h.store.ListDLQ(ctx, dlq.ListOpts{Unreplayed: true})
	if len(pending) != 1 {
		t.Fatalf("got %d unreplayed entries, want the new failure only", len(pending))
	}
	if pending[0].Attempts != 2 {
		t.Fatalf("attempts = %d, want 2 on the second entry", pending[0].Attempts)
	}
}

// ──────────────────────────────────────────────────
// ReplayAll
// ──────────────────────────────────────────────────

func TestReplayAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Two recoverable failures and one that stays broken (book removed).
	b := h.seedBook(t, "9780441172719", 2, 0)
	ada := h.seedMember(t, "ada")
	bob := h.seedMember(t, "bob")

	ops := []*circulation.Op{
		{Kind: circulation.KindBorrow, BookID: b.ID, MemberID: ada.ID},
		{Kind: circulation.KindBorrow, BookID: b.ID, MemberID: bob.ID},
		{Kind: circulation.KindBorrow, BookID: id.NewBookID(), MemberID: ada.ID},
	}
	for _, op := range ops {
		if err := h.dlq.Push(ctx, failedTask(op), op, circulate.ErrNoCopies); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	// Both copies come back.
	if _, err := h.store.AdjustCopies(ctx, b.ID, +2); err != nil {
		t.Fatalf("AdjustCopies: %v", err)
	}

	report, err := h.dlq.ReplayAll(ctx, 0)
	if err != nil {
		t.Fatalf("ReplayAll: %v", err)
	}
	if report.Replayed != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v, want 2 replayed and 1 failed", report)
	}

	// Everything was submitted, so nothing is left pending.
	pending, _ := h.store.ListDLQ(ctx, dlq.ListOpts{Unreplayed: true})
	if len(pending) != 0 {
		t.Fatalf("%d entries still unreplayed", len(pending))
	}

	loans, _ := h.store.ListLoans(ctx, catalog.LoanFilter{OpenOnly: true})
	if len(loans) != 2 {
		t.Fatalf("got %d open loans after replay, want 2", len(loans))
	}
}

func TestReplayAllHonorsContext(t *testing.T) {
	h := newHarness(t)

	// Use a real pause so cancellation lands inside the wait.
	slow := dlq.NewService(h.store, h.circ,
		dlq.WithLogger(quietLogger()),
		dlq.WithBackoff(backoff.NewConstant(time.Minute)),
	)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		op := &circulation.Op{
			Kind:     circulation.KindBorrow,
			BookID:   id.NewBookID(),
			MemberID: id.NewMemberID(),
		}
		if err := slow.Push(ctx, failedTask(op), op, circulate.ErrNoCopies); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	_, err := slow.ReplayAll(cancelCtx, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}
}
