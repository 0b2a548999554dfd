package ext

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/circulate/sched"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type taskSubmittedEntry struct {
	name string
	hook TaskSubmitted
}

type taskStartedEntry struct {
	name string
	hook TaskStarted
}

type taskCompletedEntry struct {
	name string
	hook TaskCompleted
}

type taskFailedEntry struct {
	name string
	hook TaskFailed
}

type queueClearedEntry struct {
	name string
	hook QueueCleared
}

type concurrencyChangedEntry struct {
	name string
	hook ConcurrencyChanged
}

type syncCompletedEntry struct {
	name string
	hook SyncCompleted
}

type engineStartedEntry struct {
	name string
	hook EngineStarted
}

type engineStoppedEntry struct {
	name string
	hook EngineStopped
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	taskSubmitted      []taskSubmittedEntry
	taskStarted        []taskStartedEntry
	taskCompleted      []taskCompletedEntry
	taskFailed         []taskFailedEntry
	queueCleared       []queueClearedEntry
	concurrencyChanged []concurrencyChangedEntry
	syncCompleted      []syncCompletedEntry
	engineStarted      []engineStartedEntry
	engineStopped      []engineStoppedEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(TaskSubmitted); ok {
		r.taskSubmitted = append(r.taskSubmitted, taskSubmittedEntry{name, h})
	}
	if h, ok := e.(TaskStarted); ok {
		r.taskStarted = append(r.taskStarted, taskStartedEntry{name, h})
	}
	if h, ok := e.(TaskCompleted); ok {
		r.taskCompleted = append(r.taskCompleted, taskCompletedEntry{name, h})
	}
	if h, ok := e.(TaskFailed); ok {
		r.taskFailed = append(r.taskFailed, taskFailedEntry{name, h})
	}
	if h, ok := e.(QueueCleared); ok {
		r.queueCleared = append(r.queueCleared, queueClearedEntry{name, h})
	}
	if h, ok := e.(ConcurrencyChanged); ok {
		r.concurrencyChanged = append(r.concurrencyChanged, concurrencyChangedEntry{name, h})
	}
	if h, ok := e.(SyncCompleted); ok {
		r.syncCompleted = append(r.syncCompleted, syncCompletedEntry{name, h})
	}
	if h, ok := e.(EngineStarted); ok {
		r.engineStarted = append(r.engineStarted, engineStartedEntry{name, h})
	}
	if h, ok := e.(EngineStopped); ok {
		r.engineStopped = append(r.engineStopped, engineStoppedEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// InitAll initializes extensions in registration order. The first error
// aborts initialization and is returned wrapped with the extension name.
func (r *Registry) InitAll(ctx context.Context) error {
	for _, e := range r.extensions {
		if err := e.Init(ctx); err != nil {
			return fmt.Errorf("ext: init %s: %w", e.Name(), err)
		}
	}
	return nil
}

// ShutdownAll shuts extensions down in reverse registration order.
// Shutdown errors are logged, never propagated.
func (r *Registry) ShutdownAll(ctx context.Context) {
	for i := len(r.extensions) - 1; i >= 0; i-- {
		e := r.extensions[i]
		if err := e.Shutdown(ctx); err != nil {
			r.logHookError("Shutdown", e.Name(), err)
		}
	}
}

// ──────────────────────────────────────────────────
// Task event emitters
// ──────────────────────────────────────────────────

// EmitTaskSubmitted notifies all extensions that implement TaskSubmitted.
func (r *Registry) EmitTaskSubmitted(ctx context.Context, t *sched.Task) {
	for _, e := range r.taskSubmitted {
		r.call(ctx, "OnTaskSubmitted", e.name, func() error {
			return e.hook.OnTaskSubmitted(ctx, t)
		})
	}
}

// EmitTaskStarted notifies all extensions that implement TaskStarted.
func (r *Registry) EmitTaskStarted(ctx context.Context, t *sched.Task) {
	for _, e := range r.taskStarted {
		r.call(ctx, "OnTaskStarted", e.name, func() error {
			return e.hook.OnTaskStarted(ctx, t)
		})
	}
}

// EmitTaskCompleted notifies all extensions that implement TaskCompleted.
func (r *Registry) EmitTaskCompleted(ctx context.Context, t *sched.Task, elapsed time.Duration) {
	for _, e := range r.taskCompleted {
		r.call(ctx, "OnTaskCompleted", e.name, func() error {
			return e.hook.OnTaskCompleted(ctx, t, elapsed)
		})
	}
}

// EmitTaskFailed notifies all extensions that implement TaskFailed.
func (r *Registry) EmitTaskFailed(ctx context.Context, t *sched.Task, taskErr error) {
	for _, e := range r.taskFailed {
		r.call(ctx, "OnTaskFailed", e.name, func() error {
			return e.hook.OnTaskFailed(ctx, t, taskErr)
		})
	}
}

// ──────────────────────────────────────────────────
// Scheduler state emitters
// ──────────────────────────────────────────────────

// EmitQueueCleared notifies all extensions that implement QueueCleared.
func (r *Registry) EmitQueueCleared(ctx context.Context, dropped int) {
	for _, e := range r.queueCleared {
		r.call(ctx, "OnQueueCleared", e.name, func() error {
			return e.hook.OnQueueCleared(ctx, dropped)
		})
	}
}

// EmitConcurrencyChanged notifies all extensions that implement
// ConcurrencyChanged.
func (r *Registry) EmitConcurrencyChanged(ctx context.Context, oldLimit, newLimit int) {
	for _, e := range r.concurrencyChanged {
		r.call(ctx, "OnConcurrencyChanged", e.name, func() error {
			return e.hook.OnConcurrencyChanged(ctx, oldLimit, newLimit)
		})
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitSyncCompleted notifies all extensions that implement SyncCompleted.
func (r *Registry) EmitSyncCompleted(ctx context.Context, source string, synced, failed int) {
	for _, e := range r.syncCompleted {
		r.call(ctx, "OnSyncCompleted", e.name, func() error {
			return e.hook.OnSyncCompleted(ctx, source, synced, failed)
		})
	}
}

// EmitEngineStarted notifies all extensions that implement EngineStarted.
func (r *Registry) EmitEngineStarted(ctx context.Context) {
	for _, e := range r.engineStarted {
		r.call(ctx, "OnEngineStarted", e.name, func() error {
			return e.hook.OnEngineStarted(ctx)
		})
	}
}

// EmitEngineStopped notifies all extensions that implement EngineStopped.
func (r *Registry) EmitEngineStopped(ctx context.Context) {
	for _, e := range r.engineStopped {
		r.call(ctx, "OnEngineStopped", e.name, func() error {
			return e.hook.OnEngineStopped(ctx)
		})
	}
}

// call invokes a single hook, containing both errors and panics.
// Extensions are observers; a misbehaving one must not block the pipeline
// or take down the process.
func (r *Registry) call(_ context.Context, hook, extName string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("extension hook panicked",
				slog.String("hook", hook),
				slog.String("extension", extName),
				slog.Any("panic", rec),
			)
		}
	}()
	if err := fn(); err != nil {
		r.logHookError(hook, extName, err)
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
