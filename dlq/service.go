package dlq

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/circulate/backoff"
	"github.com/xraph/circulate/circulation"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/sched"
)

// Service provides high-level dead letter operations over a Store.
type Service struct {
	store  Store
	circ   *circulation.Service
	logger *slog.Logger
	pause  backoff.Strategy
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithBackoff sets the pause strategy used between batch replays.
func WithBackoff(strategy backoff.Strategy) ServiceOption {
	return func(s *Service) {
		if strategy != nil {
			s.pause = strategy
		}
	}
}

// NewService creates a DLQ service. Replays are applied through the
// given circulation service.
func NewService(store Store, circ *circulation.Service, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		circ:   circ,
		logger: slog.Default(),
		pause:  backoff.DefaultStrategy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push builds an Entry from a failed task's op and persists it. The
// attempt count continues from the op's prior failures.
func (s *Service) Push(ctx context.Context, t *sched.Task, op *circulation.Op, taskErr error) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:        id.NewDLQID(),
		TaskID:    t.ID,
		Label:     t.Label,
		Op:        op,
		Error:     taskErr.Error(),
		Attempts:  op.Attempt + 1,
		FailedAt:  now,
		CreatedAt: now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// DLQStore returns the underlying store for direct access to List, Get,
// Purge, and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
