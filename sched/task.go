package sched

import (
	"context"
	"time"

	"github.com/xraph/circulate/id"
)

// Body is the unit of work a task carries. The scheduler treats it as
// opaque: it is never inspected, never retried, and its returned value or
// error flows straight into the task's outcome.
//
// The context is the scheduler's base context, optionally replaced per task
// with [WithTaskContext]. A well-behaved body returns promptly once the
// context is done; the scheduler never interrupts a body that ignores it.
type Body func(ctx context.Context) (any, error)

// Handler is the terminal function a middleware chain wraps. The task's
// body is adapted into a Handler at execution time.
type Handler func(ctx context.Context) error

// Middleware wraps task execution. Implementations live in the middleware
// package; they run in registration order, outermost first, and the error
// returned by the chain is the error that settles the task's outcome.
type Middleware func(ctx context.Context, t *Task, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, t *Task, next Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, t, prev)
			}
		}
		return h(ctx)
	}
}

// Task is one submitted unit of work, tracked by the scheduler from
// submission until its outcome is delivered. Tasks carry no identity
// usable for cancellation or lookup; the ID exists for diagnostics only.
type Task struct {
	// ID uniquely identifies the task in logs, traces, and the journal.
	ID id.TaskID

	// Label is free-form text for diagnostics. It never affects
	// scheduling.
	Label string

	// Actor identifies the member who initiated the task, when known.
	// Nil for internal submissions such as scheduled syncs.
	Actor id.MemberID

	// Data is an opaque application payload attached at submission time.
	// Extensions inspect it through lifecycle hooks; the scheduler never
	// reads it.
	Data any

	// Timeout is an optional per-task execution budget, honored by the
	// timeout middleware when installed. Zero means no budget.
	Timeout time.Duration

	// EnqueuedAt is when Submit appended the task to the pending queue.
	EnqueuedAt time.Time

	// StartedAt is when the task was admitted to run. Zero until then.
	StartedAt time.Time

	body    Body
	outcome *Outcome
	ctx     context.Context
}

// SubmitOption configures a single task at submission time.
type SubmitOption func(*Task)

// WithTimeout sets the task's execution budget. It takes effect only when
// the timeout middleware is part of the scheduler's chain.
func WithTimeout(d time.Duration) SubmitOption {
	return func(t *Task) { t.Timeout = d }
}

// WithTaskContext replaces the scheduler's base context for this task.
// The body receives a context derived from ctx instead.
func WithTaskContext(ctx context.Context) SubmitOption {
	return func(t *Task) { t.ctx = ctx }
}

// WithActor records the member who initiated the task, for journaling
// and tracing. The scheduler itself never reads it.
func WithActor(actor id.MemberID) SubmitOption {
	return func(t *Task) { t.Actor = actor }
}

// WithData attaches an opaque payload to the task, visible to lifecycle
// extensions such as the journal recorder and the dead letter capture.
func WithData(data any) SubmitOption {
	return func(t *Task) { t.Data = data }
}
