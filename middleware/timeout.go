package middleware

import (
	"context"
	"log/slog"

	"github.com/xraph/circulate/sched"
)

// Timeout returns middleware that enforces a per-task execution deadline.
// If the task has a non-zero Timeout, a context.WithTimeout wraps the handler
// call. When the deadline is exceeded the context is cancelled and the
// handler should return context.DeadlineExceeded.
func Timeout(logger *slog.Logger) sched.Middleware {
	return func(ctx context.Context, t *sched.Task, next sched.Handler) error {
		if t.Timeout > 0 {
			logger.Debug("task timeout set",
				slog.String("task_id", t.ID.String()),
				slog.Duration("timeout", t.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
