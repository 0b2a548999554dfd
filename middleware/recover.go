package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/circulate/sched"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace. Without it,
// a panicking task body takes the whole process down.
func Recover(logger *slog.Logger) sched.Middleware {
	return func(ctx context.Context, t *sched.Task, next sched.Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("task body panicked",
					slog.String("task_id", t.ID.String()),
					slog.String("label", t.Label),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in task %s: %v", t.Label, r)
			}
		}()
		return next(ctx)
	}
}
