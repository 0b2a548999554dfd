package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/circulate/sched"
)

// Logging returns middleware that logs task start and completion.
func Logging(logger *slog.Logger) sched.Middleware {
	return func(ctx context.Context, t *sched.Task, next sched.Handler) error {
		logger.Info("task started",
			slog.String("task_id", t.ID.String()),
			slog.String("label", t.Label),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("task failed",
				slog.String("task_id", t.ID.String()),
				slog.String("label", t.Label),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("task completed",
				slog.String("task_id", t.ID.String()),
				slog.String("label", t.Label),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
