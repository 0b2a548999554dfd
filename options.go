package circulate

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Circulator.
type Option func(*Circulator) error

// Storer is the minimal store interface held by the Circulator.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for engine lifecycle. The engine package
// provides the implementation.
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	ShutdownAll(ctx context.Context)
}

// Circulator is the central coordinator for catalog circulation: the
// scheduler, the circulation service, scheduled syncs, and the stores.
//
// Create one with New() and functional options. The Circulator holds
// references to subsystem components via internal interfaces to avoid
// import cycles. Use engine.Build to wire everything together.
type Circulator struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	runner     runner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Circulator with the given options.
func New(opts ...Option) (*Circulator, error) {
	c := &Circulator{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the circulator's logger.
func (c *Circulator) Logger() *slog.Logger { return c.logger }

// Store returns the circulator's store.
func (c *Circulator) Store() Storer { return c.store }

// Config returns a copy of the circulator's configuration.
func (c *Circulator) Config() Config { return c.config }

// SetRunner sets the engine lifecycle runner (called by the engine package).
func (c *Circulator) SetRunner(r runner) { c.runner = r }

// SetExtensions sets the extension emitter (called by the engine package).
func (c *Circulator) SetExtensions(e extensionEmitter) { c.extensions = e }

// Start begins background processing: scheduled syncs and instance
// heartbeats when configured. The scheduler itself needs no start; it
// admits tasks from the moment it exists.
func (c *Circulator) Start(ctx context.Context) error {
	if c.runner == nil {
		return ErrNoStore
	}
	if err := c.runner.Start(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Stop gracefully shuts down the circulator: pending tasks are discarded,
// in-flight tasks drain within the shutdown timeout, extensions are
// notified, and the store is closed.
func (c *Circulator) Stop(ctx context.Context) error {
	if c.runner != nil && c.started {
		if err := c.runner.Stop(ctx); err != nil {
			c.logger.Error("engine stop error", "error", err)
		}
	}
	if c.extensions != nil {
		c.extensions.ShutdownAll(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithConcurrency sets the scheduler's concurrency limit.
func WithConcurrency(n int) Option {
	return func(c *Circulator) error {
		c.config.Concurrency = n
		return nil
	}
}

// WithLoanPeriod sets how long borrowed books may be kept.
func WithLoanPeriod(d time.Duration) Option {
	return func(c *Circulator) error {
		c.config.LoanPeriod = d
		return nil
	}
}

// WithLogger sets the structured logger for the circulator.
func WithLogger(l *slog.Logger) Option {
	return func(c *Circulator) error {
		c.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the circulator.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(c *Circulator) error {
		c.store = s
		return nil
	}
}

// WithConfig replaces the whole configuration in one call.
func WithConfig(cfg Config) Option {
	return func(c *Circulator) error {
		c.config = cfg
		return nil
	}
}
