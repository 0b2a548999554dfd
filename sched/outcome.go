package sched

import (
	"context"
	"fmt"
	"sync"
)

// Outcome is the one-shot future returned by [Scheduler.Submit]. It settles
// exactly once, mirroring the task body's own success value or failure, and
// is the sole channel through which callers learn the fate of their task.
//
// An Outcome whose task is discarded by [Scheduler.Clear] never settles.
type Outcome struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
	task  *Task
}

func newOutcome() *Outcome {
	return &Outcome{done: make(chan struct{})}
}

// Task returns the task this outcome belongs to. Its exported fields are
// populated at submission time, so submitters can log or announce the
// task without waiting for it to settle.
func (o *Outcome) Task() *Task {
	return o.task
}

// settle records the result and unblocks all waiters. Only the first call
// has any effect.
func (o *Outcome) settle(value any, err error) {
	o.once.Do(func() {
		o.value = value
		o.err = err
		close(o.done)
	})
}

// Done returns a channel that is closed once the outcome has settled.
func (o *Outcome) Done() <-chan struct{} {
	return o.done
}

// Settled reports whether the outcome has already settled, without blocking.
func (o *Outcome) Settled() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// Result blocks until the outcome settles and returns the body's value and
// error. Prefer [Outcome.Wait] when a context should bound the wait.
func (o *Outcome) Result() (any, error) {
	<-o.done
	return o.value, o.err
}

// Err blocks until the outcome settles and returns its error, if any.
func (o *Outcome) Err() error {
	<-o.done
	return o.err
}

// Wait blocks until the outcome settles or ctx is done. A context error
// abandons the wait; it does not settle the outcome, and the task keeps
// running.
func (o *Outcome) Wait(ctx context.Context) (any, error) {
	select {
	case <-o.done:
		return o.value, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Await waits for the outcome and asserts its value to T. It fails with an
// error rather than panicking when the body produced a different type.
// This is a package-level function because Go methods cannot introduce
// type parameters.
func Await[T any](ctx context.Context, o *Outcome) (T, error) {
	var zero T

	v, err := o.Wait(ctx)
	if err != nil {
		return zero, err
	}

	if v == nil {
		return zero, nil
	}

	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("sched: outcome value is %T, not %T", v, zero)
	}

	return typed, nil
}
