// Package engine wires all Circulate subsystems together. It creates the
// extension registry, the scheduler with its middleware chain, the
// circulation service, the journal recorder, the dead letter capture, the
// event bus, the stream broker, and the catalog syncer.
//
// This package exists to break the import cycle: the root circulate
// package defines Entity and Config (imported by catalog, sched, etc.)
// and so cannot import those packages back. The engine package sits above
// all subsystem packages and below the application layer.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/backoff"
	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/circulation"
	"github.com/xraph/circulate/cluster"
	"github.com/xraph/circulate/dlq"
	"github.com/xraph/circulate/event"
	"github.com/xraph/circulate/ext"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/journal"
	mw "github.com/xraph/circulate/middleware"
	"github.com/xraph/circulate/observability"
	"github.com/xraph/circulate/sched"
	"github.com/xraph/circulate/stream"
	"github.com/xraph/circulate/syncer"
)

// defaultHeartbeatInterval is how often the engine refreshes this
// instance's last-seen timestamp in the cluster store.
const defaultHeartbeatInterval = 10 * time.Second

// Engine wraps a Circulator with typed subsystem access.
// Use Build() to create one from a Circulator.
type Engine struct {
	c          *circulate.Circulator
	extensions *ext.Registry
	scheduler  *sched.Scheduler
	service    *circulation.Service
	logger     *slog.Logger

	catalogStore catalog.Store
	journalStore journal.Store
	clusterStore cluster.Store

	dlqService *dlq.Service
	bus        *event.Bus
	broker     *stream.Broker
	syncer     *syncer.Syncer
	instanceID id.InstanceID

	bo          backoff.Strategy
	mws         []sched.Middleware
	syncSources []syncer.Source
	heartbeat   time.Duration

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	stopCh  chan struct{}
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the scheduler's execution chain,
// after the default stack.
func WithMiddleware(m sched.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the pacing strategy for dead letter replays.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithSyncSource registers catalog sources with the syncer. Sources can
// also be added after Build via Syncer().AddSource.
func WithSyncSource(srcs ...syncer.Source) Option {
	return func(eng *Engine) {
		eng.syncSources = append(eng.syncSources, srcs...)
	}
}

// WithHeartbeatInterval sets how often the engine heartbeats the cluster
// store. If not set, 10s is used.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(eng *Engine) {
		if d > 0 {
			eng.heartbeat = d
		}
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// lifecycle returns middleware that announces task execution to the
// extension registry. It sits outside Recover in the chain so panicking
// bodies still emit TaskFailed with the recovered error.
func lifecycle(reg *ext.Registry) sched.Middleware {
	return func(ctx context.Context, t *sched.Task, next sched.Handler) error {
		reg.EmitTaskStarted(ctx, t)
		start := time.Now()
		err := next(ctx)
		if err != nil {
			reg.EmitTaskFailed(ctx, t, err)
		} else {
			reg.EmitTaskCompleted(ctx, t, time.Since(start))
		}
		return err
	}
}

// Build creates an Engine from an existing Circulator.
// The Circulator's store must implement the catalog, journal, dlq, and
// cluster store interfaces; store.Store backends implement all four.
func Build(c *circulate.Circulator, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	store := c.Store()

	if store == nil {
		return nil, circulate.ErrNoStore
	}

	// Type-assert the store to get the catalog.Store interface.
	cs, ok := store.(catalog.Store)
	if !ok {
		return nil, fmt.Errorf("circulate: store does not implement catalog.Store")
	}

	// Type-assert the store to get the journal.Store interface.
	js, ok := store.(journal.Store)
	if !ok {
		return nil, fmt.Errorf("circulate: store does not implement journal.Store")
	}

	// Type-assert the store to get the dlq.Store interface.
	ds, ok := store.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("circulate: store does not implement dlq.Store")
	}

	// Type-assert the store to get the cluster.Store interface.
	cls, ok := store.(cluster.Store)
	if !ok {
		return nil, fmt.Errorf("circulate: store does not implement cluster.Store")
	}

	eng := &Engine{
		c:            c,
		extensions:   ext.NewRegistry(logger),
		logger:       logger,
		catalogStore: cs,
		journalStore: js,
		clusterStore: cls,
		instanceID:   id.NewInstanceID(),
		heartbeat:    defaultHeartbeatInterval,
		stopCh:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(eng)
	}

	// Default backoff strategy if none provided.
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw sched.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/xraph/circulate")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw sched.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/circulate")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/circulate/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Build the middleware chain: lifecycle → recover → tracing →
	// metrics → logging → timeout, then any user middleware.
	defaultMws := []sched.Middleware{
		lifecycle(eng.extensions),
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger),
	}
	allMws := make([]sched.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	// Create the scheduler and the circulation service on top of it.
	config := c.Config()
	eng.scheduler = sched.New(
		sched.WithConcurrency(config.Concurrency),
		sched.WithLogger(logger),
		sched.WithMiddleware(allMws...),
	)
	eng.service = circulation.NewService(cs, eng.scheduler,
		circulation.WithLogger(logger),
		circulation.WithLoanPeriod(config.LoanPeriod),
		circulation.WithLoanLimit(config.LoanLimit),
		circulation.WithEmitter(eng.extensions),
	)

	// Register the event bus publisher now that the scheduler exists.
	eng.bus = event.NewBus()
	eng.extensions.Register(event.NewPublisher(eng.bus, eng.scheduler.Stats))

	// Create the DLQ service and register the capture hook.
	eng.dlqService = dlq.NewService(ds, eng.service,
		dlq.WithLogger(logger),
		dlq.WithBackoff(eng.bo),
	)
	eng.extensions.Register(dlq.NewCapture(eng.dlqService, logger))

	// Register the journal recorder.
	eng.extensions.Register(journal.NewRecorder(js, journal.WithLogger(logger)))

	// Register the stream broker for the live feed.
	eng.broker = stream.NewBroker(logger)
	eng.extensions.Register(eng.broker)

	// Create the catalog syncer. An empty schedule disables timed rounds
	// but leaves SyncNow available.
	submitFn := func(ctx context.Context, source string, books []catalog.Book) *sched.Outcome {
		return eng.service.Sync(ctx, source, books)
	}
	sy, err := syncer.New(config.SyncSchedule, cls, submitFn, eng.extensions, eng.instanceID, logger)
	if err != nil {
		return nil, err
	}
	eng.syncer = sy
	for _, src := range eng.syncSources {
		sy.AddSource(src)
	}

	// Wire back into the Circulator.
	c.SetRunner(eng)
	c.SetExtensions(eng.extensions)

	// Register this instance in the cluster store.
	hostname, hostnameErr := os.Hostname()
	if hostnameErr != nil {
		hostname = "unknown"
	}
	inst := &cluster.Instance{
		ID:          eng.instanceID,
		Hostname:    hostname,
		Concurrency: config.Concurrency,
		State:       cluster.InstanceActive,
		LastSeen:    time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	if regErr := cls.RegisterInstance(context.Background(), inst); regErr != nil {
		logger.Warn("failed to register instance in cluster store", slog.String("error", regErr.Error()))
	}

	return eng, nil
}

// Start initializes extensions, starts scheduled syncing, and begins
// cluster heartbeats. The scheduler itself needs no start; it admits
// tasks from the moment Build returns.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.extensions.InitAll(ctx); err != nil {
		return err
	}

	eng.extensions.EmitEngineStarted(ctx)

	if err := eng.syncer.Start(ctx); err != nil {
		return fmt.Errorf("start syncer: %w", err)
	}

	eng.wg.Add(1)
	go eng.heartbeatLoop()

	return nil
}

// Stop gracefully shuts down the engine: heartbeats and syncing stop,
// pending tasks are discarded, and in-flight tasks drain within the
// configured shutdown timeout.
func (eng *Engine) Stop(ctx context.Context) error {
	if eng.stopped.Swap(true) {
		return nil
	}

	close(eng.stopCh)
	eng.wg.Wait()

	if err := eng.syncer.Stop(ctx); err != nil {
		eng.logger.Error("syncer stop error", slog.String("error", err.Error()))
	}

	if dropped := eng.scheduler.Clear(); dropped > 0 {
		eng.extensions.EmitQueueCleared(ctx, dropped)
	}

	drainCtx := ctx
	if timeout := eng.c.Config().ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := eng.scheduler.Drain(drainCtx); err != nil {
		eng.logger.Warn("tasks still in flight at shutdown", slog.String("error", err.Error()))
	}

	// Deregister this instance from the cluster.
	if err := eng.clusterStore.DeregisterInstance(ctx, eng.instanceID); err != nil {
		eng.logger.Warn("failed to deregister instance", slog.String("error", err.Error()))
	}

	eng.extensions.EmitEngineStopped(ctx)
	return nil
}

// heartbeatLoop refreshes this instance's last-seen timestamp until Stop.
func (eng *Engine) heartbeatLoop() {
	defer eng.wg.Done()

	ticker := time.NewTicker(eng.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := eng.clusterStore.HeartbeatInstance(ctx, eng.instanceID)
			cancel()
			if err != nil {
				eng.logger.Warn("instance heartbeat failed", slog.String("error", err.Error()))
			}
		case <-eng.stopCh:
			return
		}
	}
}

// Clear discards all pending tasks, announces the drop to extensions,
// and returns how many were discarded. Running tasks are unaffected.
func (eng *Engine) Clear(ctx context.Context) int {
	dropped := eng.scheduler.Clear()
	eng.extensions.EmitQueueCleared(ctx, dropped)
	return dropped
}

// SetConcurrency updates the scheduler's concurrency limit, announcing
// the change to extensions when the effective limit actually moves.
// Values below 1 are clamped up to 1.
func (eng *Engine) SetConcurrency(ctx context.Context, n int) {
	old := eng.scheduler.Stats().Concurrency
	eng.scheduler.SetConcurrency(n)
	next := eng.scheduler.Stats().Concurrency
	if next != old {
		eng.extensions.EmitConcurrencyChanged(ctx, old, next)
	}
}

// Circulator returns the underlying Circulator.
func (eng *Engine) Circulator() *circulate.Circulator { return eng.c }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Scheduler returns the task scheduler.
func (eng *Engine) Scheduler() *sched.Scheduler { return eng.scheduler }

// Service returns the circulation service.
func (eng *Engine) Service() *circulation.Service { return eng.service }

// CatalogStore returns the catalog store for read access. Mutations
// should go through the Service so they are scheduled and journaled.
func (eng *Engine) CatalogStore() catalog.Store { return eng.catalogStore }

// DLQService returns the engine's dead letter service for replay and
// inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// JournalStore returns the journal store for read access.
func (eng *Engine) JournalStore() journal.Store { return eng.journalStore }

// ClusterStore returns the cluster store.
func (eng *Engine) ClusterStore() cluster.Store { return eng.clusterStore }

// Events returns the in-process event bus carrying typed lifecycle
// events with scheduler stats snapshots.
func (eng *Engine) Events() *event.Bus { return eng.bus }

// Broker returns the stream broker feeding wire subscribers.
func (eng *Engine) Broker() *stream.Broker { return eng.broker }

// Syncer returns the catalog syncer.
func (eng *Engine) Syncer() *syncer.Syncer { return eng.syncer }

// InstanceID returns this engine's cluster instance ID.
func (eng *Engine) InstanceID() id.InstanceID { return eng.instanceID }
