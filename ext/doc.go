// Package ext defines the extension system for Circulate.
//
// Extensions are notified of lifecycle events and can react to them —
// writing journal entries, recording metrics, emitting webhooks, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string                       { return "my-extension" }
//	func (e *MyExtension) Init(ctx context.Context) error     { return nil }
//	func (e *MyExtension) Shutdown(ctx context.Context) error { return nil }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnTaskCompleted(ctx context.Context, t *sched.Task, elapsed time.Duration) error {
//	    log.Printf("task %s completed in %s", t.ID, elapsed)
//	    return nil
//	}
//
// # Task Lifecycle Hooks
//
//   - [TaskSubmitted] — task was appended to the pending queue
//   - [TaskStarted] — task was admitted and began executing
//   - [TaskCompleted] — task body finished successfully
//   - [TaskFailed] — task body returned an error
//
// # Scheduler State Hooks
//
//   - [QueueCleared] — the pending queue was discarded
//   - [ConcurrencyChanged] — the concurrency limit was updated
//
// # Other Hooks
//
//   - [SyncCompleted] — a catalog sync round finished
//   - [EngineStarted] — the engine is wired and running
//   - [EngineStopped] — the engine began graceful shutdown
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors and panics are
// logged and contained, never propagated.
package ext
