package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/circulate/circulation"
	"github.com/xraph/circulate/ext"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/sched"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Recorder)(nil)
	_ ext.TaskCompleted = (*Recorder)(nil)
	_ ext.TaskFailed    = (*Recorder)(nil)
)

// Recorder is an extension that appends one journal entry per settled
// task. Append failures are logged, never propagated; the journal is an
// observer and must not affect task outcomes.
type Recorder struct {
	store  Store
	labels map[string]bool // nil = all labels
	logger *slog.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithLabels restricts the recorder to the listed task labels. By
// default every settled task is journaled.
func WithLabels(labels ...string) RecorderOption {
	return func(r *Recorder) {
		r.labels = make(map[string]bool, len(labels))
		for _, l := range labels {
			r.labels[l] = true
		}
	}
}

// WithLogger sets a custom logger for the recorder.
func WithLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = logger }
}

// NewRecorder creates a Recorder that appends entries to the given store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name implements ext.Extension.
func (r *Recorder) Name() string { return "journal" }

// Init implements ext.Extension.
func (r *Recorder) Init(ctx context.Context) error { return nil }

// Shutdown implements ext.Extension.
func (r *Recorder) Shutdown(ctx context.Context) error { return nil }

// OnTaskCompleted implements ext.TaskCompleted.
func (r *Recorder) OnTaskCompleted(ctx context.Context, t *sched.Task, elapsed time.Duration) error {
	r.append(ctx, t, OutcomeSuccess, "", elapsed)
	return nil
}

// OnTaskFailed implements ext.TaskFailed.
func (r *Recorder) OnTaskFailed(ctx context.Context, t *sched.Task, taskErr error) error {
	var elapsed time.Duration
	if !t.StartedAt.IsZero() {
		elapsed = time.Since(t.StartedAt)
	}

	msg := ""
	if taskErr != nil {
		msg = taskErr.Error()
	}

	r.append(ctx, t, OutcomeFailure, msg, elapsed)
	return nil
}

// append builds the entry and persists it. Entity references come from
// the circulation op riding on the task, when present.
func (r *Recorder) append(ctx context.Context, t *sched.Task, outcome, errText string, elapsed time.Duration) {
	if r.labels != nil && !r.labels[t.Label] {
		return
	}

	e := &Entry{
		ID:         id.NewJournalID(),
		TaskID:     t.ID,
		Label:      t.Label,
		Actor:      t.Actor,
		Outcome:    outcome,
		Error:      errText,
		ElapsedMS:  elapsed.Milliseconds(),
		RecordedAt: time.Now().UTC(),
	}

	if op, ok := t.Data.(*circulation.Op); ok {
		e.Kind = op.Kind
		e.BookID = op.BookID
		e.MemberID = op.MemberID
		e.LoanID = op.LoanID
		e.HoldID = op.HoldID
		if e.BookID.IsNil() && op.Book != nil {
			e.BookID = op.Book.ID
		}
	}

	if err := r.store.AppendEntry(ctx, e); err != nil {
		r.logger.Warn("journal: failed to append entry",
			"task_id", t.ID,
			"label", t.Label,
			"error", err,
		)
	}
}
