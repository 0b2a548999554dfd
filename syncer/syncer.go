package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/circulate/backoff"
	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/circulation"
	"github.com/xraph/circulate/cluster"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/sched"
)

// SubmitFunc is the callback the syncer uses to apply a pulled batch.
// The engine provides the implementation so sync tasks travel the same
// submission path, and fire the same lifecycle hooks, as every other
// operation.
type SubmitFunc func(ctx context.Context, source string, books []catalog.Book) *sched.Outcome

// Emitter emits sync lifecycle events.
// ext.Registry satisfies this interface via EmitSyncCompleted.
type Emitter interface {
	EmitSyncCompleted(ctx context.Context, source string, synced, failed int)
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithTickInterval sets how often the syncer checks whether a round is
// due.
func WithTickInterval(d time.Duration) Option {
	return func(s *Syncer) { s.tickInterval = d }
}

// WithLeaderTTL sets the TTL for leader election.
func WithLeaderTTL(d time.Duration) Option {
	return func(s *Syncer) { s.leaderTTL = d }
}

// WithPullAttempts sets how many times a failing source is pulled per
// round before it is skipped.
func WithPullAttempts(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.pullAttempts = n
		}
	}
}

// WithBackoff sets the delay strategy between failed pulls.
func WithBackoff(strategy backoff.Strategy) Option {
	return func(s *Syncer) {
		if strategy != nil {
			s.backoff = strategy
		}
	}
}

// WithMaxParallel caps how many sources are pulled at once per round.
func WithMaxParallel(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.maxParallel = n
		}
	}
}

// cronParser supports standard 5-field cron and descriptors like
// "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
// Exported so config validation can reject bad expressions at startup.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Syncer pulls registered sources on a cron schedule. Only the cluster
// leader runs scheduled rounds to prevent double-pulling.
type Syncer struct {
	clusterStore cluster.Store
	submit       SubmitFunc
	emitter      Emitter
	instanceID   id.InstanceID
	logger       *slog.Logger

	schedule cronlib.Schedule
	expr     string

	tickInterval time.Duration
	leaderTTL    time.Duration
	pullAttempts int
	backoff      backoff.Strategy
	maxParallel  int

	mu      sync.Mutex
	sources []Source
	nextRun time.Time
	lastRun time.Time

	// runMu serializes rounds so a manual trigger cannot overlap a
	// scheduled one.
	runMu sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Syncer firing on the given cron expression. An empty
// expression disables scheduled rounds; sources can still be pulled on
// demand with SyncNow.
func New(
	expr string,
	clusterStore cluster.Store,
	submit SubmitFunc,
	emitter Emitter,
	instanceID id.InstanceID,
	logger *slog.Logger,
	opts ...Option,
) (*Syncer, error) {
	var schedule cronlib.Schedule
	if expr != "" {
		var err error
		schedule, err = ParseSchedule(expr)
		if err != nil {
			return nil, fmt.Errorf("syncer: parse schedule %q: %w", expr, err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Syncer{
		clusterStore: clusterStore,
		submit:       submit,
		emitter:      emitter,
		instanceID:   instanceID,
		logger:       logger,
		schedule:     schedule,
		expr:         expr,
		tickInterval: 1 * time.Second,
		leaderTTL:    15 * time.Second,
		pullAttempts: 3,
		backoff:      backoff.NewExponential(2*time.Second, 30*time.Second),
		maxParallel:  4,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.schedule != nil {
		s.nextRun = s.schedule.Next(time.Now().UTC())
	}
	return s, nil
}

// AddSource registers a source for future rounds.
func (s *Syncer) AddSource(src Source) {
	s.mu.Lock()
	s.sources = append(s.sources, src)
	s.mu.Unlock()
}

// Sources returns the registered sources.
func (s *Syncer) Sources() []Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Source, len(s.sources))
	copy(out, s.sources)
	return out
}

// NextRun returns when the next scheduled round is due. Zero when
// scheduling is disabled.
func (s *Syncer) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// LastRun returns when this instance last ran a scheduled round.
func (s *Syncer) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Start launches the leader election and tick goroutines. It is a
// no-op when no schedule is configured.
func (s *Syncer) Start(_ context.Context) error {
	if s.schedule == nil {
		s.logger.Info("catalog syncer idle, no schedule configured")
		return nil
	}
	s.wg.Add(2)
	go s.leaderLoop()
	go s.tickLoop()
	s.logger.Info("catalog syncer started",
		slog.String("instance_id", s.instanceID.String()),
		slog.String("schedule", s.expr),
		slog.Time("next_run", s.NextRun()),
	)
	return nil
}

// Stop signals the syncer to stop and waits for goroutines to finish.
func (s *Syncer) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("catalog syncer stopped")
	return nil
}

// leaderLoop continuously attempts to acquire or renew leadership.
func (s *Syncer) leaderLoop() {
	defer s.wg.Done()

	renewInterval := s.leaderTTL / 2
	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	// Try once immediately at start.
	s.tryLeadership()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tryLeadership()
		}
	}
}

func (s *Syncer) tryLeadership() {
	ctx := context.Background()

	// Try to renew first (cheap if already leader).
	renewed, err := s.clusterStore.RenewLeadership(ctx, s.instanceID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("leadership renew error", slog.String("error", err.Error()))
		return
	}
	if renewed {
		return
	}

	// Not leader yet; try to acquire.
	acquired, err := s.clusterStore.AcquireLeadership(ctx, s.instanceID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("leadership acquire error", slog.String("error", err.Error()))
		return
	}
	if acquired {
		s.logger.Info("acquired sync leadership", slog.String("instance_id", s.instanceID.String()))
	}
}

// tickLoop fires on each tick interval and runs due rounds.
func (s *Syncer) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Syncer) tick() {
	ctx := context.Background()

	now := time.Now().UTC()
	s.mu.Lock()
	due := !s.nextRun.IsZero() && !s.nextRun.After(now)
	s.mu.Unlock()
	if !due {
		return
	}

	// Check if we are the leader.
	leader, err := s.clusterStore.GetLeader(ctx)
	if err != nil {
		s.logger.Warn("get leader error", slog.String("error", err.Error()))
		return
	}
	if leader == nil || leader.ID != s.instanceID {
		// Not the leader. Advance the local clock anyway so a later
		// takeover does not replay missed rounds.
		s.mu.Lock()
		s.nextRun = s.schedule.Next(now)
		s.mu.Unlock()
		return
	}

	if err := s.runRound(ctx); err != nil {
		s.logger.Warn("sync round had failures", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	s.lastRun = now
	s.nextRun = s.schedule.Next(now)
	s.mu.Unlock()
}

// SyncNow runs one round immediately, regardless of schedule and
// leadership. The returned error is the first pull or apply failure,
// if any; other sources still complete their pulls.
func (s *Syncer) SyncNow(ctx context.Context) error {
	return s.runRound(ctx)
}

// runRound pulls every source with bounded parallelism and submits one
// sync operation per successful pull.
func (s *Syncer) runRound(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	sources := s.Sources()
	if len(sources) == 0 {
		return nil
	}

	runID := id.NewSyncID()
	start := time.Now()
	s.logger.Info("sync round started",
		slog.String("run_id", runID.String()),
		slog.Int("sources", len(sources)),
	)

	g := new(errgroup.Group)
	g.SetLimit(s.maxParallel)
	for _, src := range sources {
		g.Go(func() error {
			return s.pullSource(ctx, src)
		})
	}
	err := g.Wait()

	s.logger.Info("sync round finished",
		slog.String("run_id", runID.String()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return err
}

// pullSource pulls one source, retrying with backoff, then submits the
// batch and waits for the sync report.
func (s *Syncer) pullSource(ctx context.Context, src Source) error {
	var books []catalog.Book
	var err error

	for attempt := 1; attempt <= s.pullAttempts; attempt++ {
		books, err = src.Pull(ctx)
		if err == nil {
			break
		}
		s.logger.Warn("source pull failed",
			slog.String("source", src.Name()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt == s.pullAttempts {
			return fmt.Errorf("syncer: pull %s: %w", src.Name(), err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoff.Delay(attempt)):
		}
	}

	out := s.submit(ctx, src.Name(), books)
	res, err := out.Wait(ctx)
	if err != nil {
		return fmt.Errorf("syncer: apply %s batch: %w", src.Name(), err)
	}
	report, ok := res.(*circulation.SyncReport)
	if !ok {
		return fmt.Errorf("syncer: unexpected result type %T for %s", res, src.Name())
	}

	if s.emitter != nil {
		s.emitter.EmitSyncCompleted(ctx, src.Name(), report.Synced(), report.Failed)
	}

	s.logger.Info("source synced",
		slog.String("source", src.Name()),
		slog.Int("pulled", len(books)),
		slog.Int("created", report.Created),
		slog.Int("updated", report.Updated),
		slog.Int("failed", report.Failed),
	)
	return nil
}
