// Package ext defines the extension system for Circulate.
// Extensions are notified of lifecycle events (task submitted, completed,
// failed, queue cleared, etc.) and can react to them — journaling,
// metrics, webhooks, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/circulate/sched"
)

// Extension is the base interface all extensions must implement.
// Init runs once before the engine starts accepting work; Shutdown runs
// once during graceful teardown, in reverse registration order.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string

	// Init prepares the extension. Returning an error aborts engine start.
	Init(ctx context.Context) error

	// Shutdown releases the extension's resources.
	Shutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Task lifecycle hooks
// ──────────────────────────────────────────────────

// TaskSubmitted is called after a task is appended to the pending queue.
type TaskSubmitted interface {
	OnTaskSubmitted(ctx context.Context, t *sched.Task) error
}

// TaskStarted is called when a task is admitted and begins executing.
type TaskStarted interface {
	OnTaskStarted(ctx context.Context, t *sched.Task) error
}

// TaskCompleted is called after a task body finishes successfully.
type TaskCompleted interface {
	OnTaskCompleted(ctx context.Context, t *sched.Task, elapsed time.Duration) error
}

// TaskFailed is called when a task body returns an error.
type TaskFailed interface {
	OnTaskFailed(ctx context.Context, t *sched.Task, taskErr error) error
}

// ──────────────────────────────────────────────────
// Scheduler state hooks
// ──────────────────────────────────────────────────

// QueueCleared is called after the pending queue is discarded.
type QueueCleared interface {
	OnQueueCleared(ctx context.Context, dropped int) error
}

// ConcurrencyChanged is called after the concurrency limit is updated.
type ConcurrencyChanged interface {
	OnConcurrencyChanged(ctx context.Context, oldLimit, newLimit int) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// SyncCompleted is called after a catalog sync round finishes.
type SyncCompleted interface {
	OnSyncCompleted(ctx context.Context, source string, synced, failed int) error
}

// EngineStarted is called once the engine is fully wired and running.
type EngineStarted interface {
	OnEngineStarted(ctx context.Context) error
}

// EngineStopped is called when the engine begins graceful shutdown,
// before extension Shutdown methods run.
type EngineStopped interface {
	OnEngineStopped(ctx context.Context) error
}
