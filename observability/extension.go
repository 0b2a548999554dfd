package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/circulate/ext"
	"github.com/xraph/circulate/sched"
)

// meterName is the instrumentation scope name for circulate metrics.
const meterName = "github.com/xraph/circulate"

// Compile-time interface checks.
var (
	_ ext.Extension          = (*MetricsExtension)(nil)
	_ ext.TaskSubmitted      = (*MetricsExtension)(nil)
	_ ext.TaskStarted        = (*MetricsExtension)(nil)
	_ ext.TaskCompleted      = (*MetricsExtension)(nil)
	_ ext.TaskFailed         = (*MetricsExtension)(nil)
	_ ext.QueueCleared       = (*MetricsExtension)(nil)
	_ ext.ConcurrencyChanged = (*MetricsExtension)(nil)
	_ ext.SyncCompleted      = (*MetricsExtension)(nil)
)

// MetricsExtension records engine-wide lifecycle metrics via OpenTelemetry.
// Register it as a Circulate extension to track submission rates, completion
// and failure counts, queue clears, concurrency changes, and sync rounds.
//
// Instruments:
//   - circulate.task.submitted (Int64Counter): tasks appended to the queue, by label
//   - circulate.task.started (Int64Counter): tasks admitted to run, by label
//   - circulate.task.completed (Int64Counter): tasks that settled successfully, by label
//   - circulate.task.failed (Int64Counter): tasks that settled with an error, by label
//   - circulate.queue.cleared (Int64Counter): pending tasks dropped by Clear
//   - circulate.concurrency.limit (Int64Gauge): current worker limit
//   - circulate.sync.books (Int64Counter): books processed per sync round, by source and status
type MetricsExtension struct {
	taskSubmitted metric.Int64Counter
	taskStarted   metric.Int64Counter
	taskCompleted metric.Int64Counter
	taskFailed    metric.Int64Counter
	queueCleared  metric.Int64Counter
	concurrency   metric.Int64Gauge
	syncBooks     metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. If none is configured, noop instruments are used and the
// extension becomes a pass-through.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. Use this variant to inject a specific MeterProvider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}

	// Instruments are created once here. On error the OTel API returns
	// noop instruments, so the extension degrades gracefully.
	m.taskSubmitted, _ = meter.Int64Counter(
		"circulate.task.submitted",
		metric.WithDescription("Total number of tasks submitted"),
		metric.WithUnit("{task}"),
	)
	m.taskStarted, _ = meter.Int64Counter(
		"circulate.task.started",
		metric.WithDescription("Total number of tasks admitted to run"),
		metric.WithUnit("{task}"),
	)
	m.taskCompleted, _ = meter.Int64Counter(
		"circulate.task.completed",
		metric.WithDescription("Total number of tasks that completed successfully"),
		metric.WithUnit("{task}"),
	)
	m.taskFailed, _ = meter.Int64Counter(
		"circulate.task.failed",
		metric.WithDescription("Total number of tasks that failed"),
		metric.WithUnit("{task}"),
	)
	m.queueCleared, _ = meter.Int64Counter(
		"circulate.queue.cleared",
		metric.WithDescription("Total number of pending tasks discarded by queue clears"),
		metric.WithUnit("{task}"),
	)
	m.concurrency, _ = meter.Int64Gauge(
		"circulate.concurrency.limit",
		metric.WithDescription("Current scheduler concurrency limit"),
		metric.WithUnit("{task}"),
	)
	m.syncBooks, _ = meter.Int64Counter(
		"circulate.sync.books",
		metric.WithDescription("Total number of catalog records processed by sync rounds"),
		metric.WithUnit("{book}"),
	)

	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// Init implements ext.Extension.
func (m *MetricsExtension) Init(ctx context.Context) error { return nil }

// Shutdown implements ext.Extension.
func (m *MetricsExtension) Shutdown(ctx context.Context) error { return nil }

// ── Task lifecycle hooks ─────────────────────────────

// OnTaskSubmitted implements ext.TaskSubmitted.
func (m *MetricsExtension) OnTaskSubmitted(ctx context.Context, t *sched.Task) error {
	m.taskSubmitted.Add(ctx, 1, labelAttr(t))
	return nil
}

// OnTaskStarted implements ext.TaskStarted.
func (m *MetricsExtension) OnTaskStarted(ctx context.Context, t *sched.Task) error {
	m.taskStarted.Add(ctx, 1, labelAttr(t))
	return nil
}

// OnTaskCompleted implements ext.TaskCompleted.
func (m *MetricsExtension) OnTaskCompleted(ctx context.Context, t *sched.Task, _ time.Duration) error {
	m.taskCompleted.Add(ctx, 1, labelAttr(t))
	return nil
}

// OnTaskFailed implements ext.TaskFailed.
func (m *MetricsExtension) OnTaskFailed(ctx context.Context, t *sched.Task, _ error) error {
	m.taskFailed.Add(ctx, 1, labelAttr(t))
	return nil
}

// ── Scheduler state hooks ────────────────────────────

// OnQueueCleared implements ext.QueueCleared.
func (m *MetricsExtension) OnQueueCleared(ctx context.Context, dropped int) error {
	m.queueCleared.Add(ctx, int64(dropped))
	return nil
}

// OnConcurrencyChanged implements ext.ConcurrencyChanged.
func (m *MetricsExtension) OnConcurrencyChanged(ctx context.Context, _, newLimit int) error {
	m.concurrency.Record(ctx, int64(newLimit))
	return nil
}

// ── Sync hooks ───────────────────────────────────────

// OnSyncCompleted implements ext.SyncCompleted.
func (m *MetricsExtension) OnSyncCompleted(ctx context.Context, source string, synced, failed int) error {
	if synced > 0 {
		m.syncBooks.Add(ctx, int64(synced), metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("status", "ok"),
		))
	}
	if failed > 0 {
		m.syncBooks.Add(ctx, int64(failed), metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("status", "error"),
		))
	}
	return nil
}

func labelAttr(t *sched.Task) metric.AddOption {
	return metric.WithAttributes(attribute.String("label", t.Label))
}
