package dlq

import (
	"context"
	"log/slog"

	"github.com/xraph/circulate/circulation"
	"github.com/xraph/circulate/ext"
	"github.com/xraph/circulate/sched"
)

// Compile-time interface checks.
var (
	_ ext.Extension  = (*Capture)(nil)
	_ ext.TaskFailed = (*Capture)(nil)
)

// Capture is an extension that moves failed circulation ops into the
// dead letter queue. Tasks without an op payload are ignored; there is
// nothing to replay.
type Capture struct {
	service *Service
	logger  *slog.Logger
}

// NewCapture creates a Capture feeding the given service.
func NewCapture(service *Service, logger *slog.Logger) *Capture {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{service: service, logger: logger}
}

// Name implements ext.Extension.
func (c *Capture) Name() string { return "dlq-capture" }

// Init implements ext.Extension.
func (c *Capture) Init(ctx context.Context) error { return nil }

// Shutdown implements ext.Extension.
func (c *Capture) Shutdown(ctx context.Context) error { return nil }

// OnTaskFailed implements ext.TaskFailed. Push failures are logged, not
// propagated; losing a dead letter must not cascade.
func (c *Capture) OnTaskFailed(ctx context.Context, t *sched.Task, taskErr error) error {
	op, ok := t.Data.(*circulation.Op)
	if !ok {
		return nil
	}

	if err := c.service.Push(ctx, t, op, taskErr); err != nil {
		c.logger.Warn("dlq: failed to capture op",
			"task_id", t.ID,
			"label", t.Label,
			"error", err,
		)
	}
	return nil
}
