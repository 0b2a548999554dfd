package sched

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/circulate/id"
)

// DefaultConcurrency is the concurrency limit used when none is configured.
const DefaultConcurrency = 2

// Scheduler is a bounded-concurrency FIFO task scheduler. Submit never
// blocks; tasks beyond the concurrency limit wait in the pending queue and
// are admitted strictly in submission order as capacity frees up.
//
// The zero value is not usable; create one with [New].
type Scheduler struct {
	mu       sync.Mutex
	queue    []*Task
	running  int
	limit    int
	onChange func()

	baseCtx context.Context
	chain   Middleware
	logger  *slog.Logger

	// wg tracks admitted bodies so Drain can wait for them. Each admission
	// Adds before the completing task's Done, so the counter reaches zero
	// only once the queue is empty and nothing is in flight.
	wg sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConcurrency sets the concurrency limit. Values below 1 are clamped
// up to 1, matching SetConcurrency.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n < 1 {
			n = 1
		}
		s.limit = n
	}
}

// WithLogger sets the structured logger for the scheduler.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithBaseContext sets the context handed to task bodies. Cancelling it is
// the coarse-grained way to ask all well-behaved bodies to wind down.
// Defaults to context.Background().
func WithBaseContext(ctx context.Context) Option {
	return func(s *Scheduler) { s.baseCtx = ctx }
}

// WithMiddleware sets the execution chain wrapped around every task body.
// Middlewares run in the given order, outermost first.
func WithMiddleware(mws ...Middleware) Option {
	return func(s *Scheduler) {
		if len(mws) == 0 {
			s.chain = nil
			return
		}
		s.chain = Chain(mws...)
	}
}

// WithOnChange registers the observation callback at construction time.
// Equivalent to calling OnChange after New.
func WithOnChange(fn func()) Option {
	return func(s *Scheduler) { s.onChange = fn }
}

// New creates a Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		limit:   DefaultConcurrency,
		baseCtx: context.Background(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats is a point-in-time snapshot of scheduler state.
type Stats struct {
	// Queued is the number of tasks waiting for admission.
	Queued int `json:"queued"`

	// Running is the number of admitted tasks that have not yet settled.
	Running int `json:"running"`

	// Concurrency is the current concurrency limit.
	Concurrency int `json:"concurrency"`
}

// Stats returns the current queue length, running count, and concurrency
// limit. It has no side effects and is safe to call from inside the
// observation callback.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Queued:      len(s.queue),
		Running:     s.running,
		Concurrency: s.limit,
	}
}

// OnChange registers the single observation callback, replacing any
// previous one. The callback is invoked synchronously, with no arguments,
// after every state transition: submission, admission, settlement,
// concurrency change, and clear. It should re-read Stats for current
// state and must not assume which transition triggered a given call.
//
// The scheduler does not recover a panicking callback; keeping it safe is
// the caller's responsibility.
func (s *Scheduler) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Submit appends a task to the pending queue and returns its outcome
// handle. It never blocks: the task runs immediately if capacity allows,
// otherwise it waits its turn in strict submission order.
//
// The outcome settles exactly once with the body's own value or error.
// body must not be nil.
func (s *Scheduler) Submit(label string, body Body, opts ...SubmitOption) *Outcome {
	if body == nil {
		panic("sched: Submit called with nil body")
	}

	t := &Task{
		ID:         id.NewTaskID(),
		Label:      label,
		EnqueuedAt: time.Now().UTC(),
		body:       body,
		outcome:    newOutcome(),
	}
	t.outcome.task = t
	for _, opt := range opts {
		opt(t)
	}

	s.mu.Lock()
	s.queue = append(s.queue, t)
	queued := len(s.queue)
	s.mu.Unlock()

	s.logger.Debug("task submitted",
		slog.String("task_id", t.ID.String()),
		slog.String("label", t.Label),
		slog.Int("queued", queued),
	)

	s.notify()
	s.admit()

	return t.outcome
}

// SetConcurrency updates the concurrency limit. Values below 1 are clamped
// up to 1 rather than rejected. Raising the limit immediately admits newly
// eligible queued tasks; lowering it never preempts tasks already running —
// they run to completion, and the shrink only throttles future admission.
func (s *Scheduler) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}

	s.mu.Lock()
	old := s.limit
	s.limit = n
	s.mu.Unlock()

	s.logger.Info("concurrency changed",
		slog.Int("old", old),
		slog.Int("new", n),
	)

	s.notify()

	if n > old {
		s.admit()
	}
}

// Clear discards all pending tasks and returns how many were dropped.
// Running tasks are unaffected and continue to completion.
//
// Known limitation: the outcomes of discarded tasks are never settled —
// their callers wait forever unless they bound the wait with a context.
func (s *Scheduler) Clear() int {
	s.mu.Lock()
	dropped := len(s.queue)
	for i := range s.queue {
		s.queue[i] = nil
	}
	s.queue = s.queue[:0]
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warn("pending queue cleared",
			slog.Int("dropped", dropped),
		)
	}

	s.notify()

	return dropped
}

// Drain blocks until the queue is empty and every admitted task has
// settled, or until ctx is done. Callers that want to stop promptly should
// Clear first so settlements stop refilling from the queue.
func (s *Scheduler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// admit is the admission pass: while capacity remains and tasks are
// pending, pop the queue head, mark it running, notify, and start its body.
// Runs on submit, on every settlement, and on a concurrency raise.
func (s *Scheduler) admit() {
	for {
		s.mu.Lock()
		if s.running >= s.limit || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		t := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.running++
		s.mu.Unlock()

		t.StartedAt = time.Now().UTC()

		s.logger.Debug("task admitted",
			slog.String("task_id", t.ID.String()),
			slog.String("label", t.Label),
			slog.Duration("waited", t.StartedAt.Sub(t.EnqueuedAt)),
		)

		s.notify()

		s.wg.Add(1)
		go s.run(t)
	}
}

// run executes one admitted task body through the middleware chain and
// settles its outcome.
func (s *Scheduler) run(t *Task) {
	defer s.wg.Done()

	ctx := s.baseCtx
	if t.ctx != nil {
		ctx = t.ctx
	}

	start := time.Now()

	// Adapt the body into the chain's terminal handler, capturing the
	// value so only the error travels through the middleware.
	var value any
	terminal := func(ctx context.Context) error {
		v, err := t.body(ctx)
		value = v
		return err
	}

	var err error
	if s.chain != nil {
		err = s.chain(ctx, t, terminal)
	} else {
		err = terminal(ctx)
	}

	s.settle(t, value, err, time.Since(start))
}

// settle decrements the running count, delivers the outcome, notifies, and
// re-runs the admission pass so freed capacity is refilled immediately.
// A failing body affects nothing beyond its own outcome.
func (s *Scheduler) settle(t *Task, value any, err error, elapsed time.Duration) {
	s.mu.Lock()
	s.running--
	s.mu.Unlock()

	if err != nil {
		t.outcome.settle(nil, err)
		s.logger.Debug("task failed",
			slog.String("task_id", t.ID.String()),
			slog.String("label", t.Label),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()),
		)
	} else {
		t.outcome.settle(value, nil)
		s.logger.Debug("task completed",
			slog.String("task_id", t.ID.String()),
			slog.String("label", t.Label),
			slog.Duration("duration", elapsed),
		)
	}

	s.notify()
	s.admit()
}

// notify invokes the observation callback outside the mutex, so the
// callback can call Stats without deadlocking.
func (s *Scheduler) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}
