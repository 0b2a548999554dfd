// Package sched provides the bounded-concurrency task scheduler at the core
// of Circulate. Callers submit labeled units of asynchronous work; the
// scheduler admits up to a configurable concurrency limit to run, queues the
// rest in strict submission order, and settles each task's outcome
// independently of its siblings.
//
// # Quick Start
//
//	s := sched.New(sched.WithConcurrency(4))
//
//	out := s.Submit("book.add", func(ctx context.Context) (any, error) {
//	    return store.CreateBook(ctx, b)
//	})
//
//	v, err := out.Wait(ctx)
//
// # Model
//
// The scheduler owns three pieces of state: the pending queue (FIFO), the
// running count, and the concurrency limit. The invariant running <= limit
// holds at every observable instant; the running count only decreases when
// an admitted task's body has fully settled. All three are guarded by a
// single mutex, since task bodies execute on their own goroutines.
//
// Admission is a continuous pipeline: every submission, settlement, and
// concurrency raise re-runs the admission pass, which pops the queue head
// while capacity remains. Settlements free capacity that is refilled from
// the queue immediately.
//
// # Observation
//
// A single mutable callback, registered with [Scheduler.OnChange], fires
// synchronously after every state transition (submission, admission,
// settlement, concurrency change, clear). The callback receives no
// arguments; it re-reads [Scheduler.Stats], which is safe to call from
// inside the callback. Callback panics are not recovered.
//
// # Limits
//
// There is no per-task cancellation and no built-in timeout: a body that
// never settles permanently occupies one unit of capacity and its outcome
// never resolves. The escape hatch is the context handed to each body —
// see [WithBaseContext], [WithTaskContext], and the timeout middleware —
// but the scheduler itself never force-settles an outcome.
package sched
