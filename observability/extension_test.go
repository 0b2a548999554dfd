package observability_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/circulate/ext"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/observability"
	"github.com/xraph/circulate/sched"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestTask() *sched.Task {
	return &sched.Task{
		ID:    id.NewTaskID(),
		Label: "book.add",
	}
}

// counterValue collects and sums all data points of a counter, across
// attribute sets.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: expected Sum[int64] data type, got %T", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func gaugeValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			g, ok := m.Data.(metricdata.Gauge[int64])
			if !ok {
				t.Fatalf("%s: expected Gauge[int64] data type, got %T", name, m.Data)
			}
			if len(g.DataPoints) == 0 {
				t.Fatalf("%s: no data points recorded", name)
			}
			return g.DataPoints[len(g.DataPoints)-1].Value
		}
	}
	t.Fatalf("%s: metric not found", name)
	return 0
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_TaskSubmitted(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnTaskSubmitted(context.Background(), newTestTask()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "circulate.task.submitted"); got != 1 {
		t.Errorf("circulate.task.submitted: want 1, got %d", got)
	}
}

func TestMetricsExtension_TaskStarted(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnTaskStarted(context.Background(), newTestTask()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "circulate.task.started"); got != 1 {
		t.Errorf("circulate.task.started: want 1, got %d", got)
	}
}

func TestMetricsExtension_TaskCompleted(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnTaskCompleted(context.Background(), newTestTask(), 100*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "circulate.task.completed"); got != 1 {
		t.Errorf("circulate.task.completed: want 1, got %d", got)
	}
}

func TestMetricsExtension_TaskFailed(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnTaskFailed(context.Background(), newTestTask(), errors.New("boom")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "circulate.task.failed"); got != 1 {
		t.Errorf("circulate.task.failed: want 1, got %d", got)
	}
}

func TestMetricsExtension_QueueCleared(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnQueueCleared(context.Background(), 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "circulate.queue.cleared"); got != 7 {
		t.Errorf("circulate.queue.cleared: want 7, got %d", got)
	}
}

func TestMetricsExtension_ConcurrencyChanged(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnConcurrencyChanged(context.Background(), 2, 8); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := gaugeValue(t, reader, "circulate.concurrency.limit"); got != 8 {
		t.Errorf("circulate.concurrency.limit: want 8, got %d", got)
	}
}

func TestMetricsExtension_SyncCompleted(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnSyncCompleted(context.Background(), "central-catalog", 40, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "circulate.sync.books"); got != 42 {
		t.Errorf("circulate.sync.books: want 42, got %d", got)
	}
}

func TestMetricsExtension_DefaultNoopSafe(t *testing.T) {
	// Without a global MeterProvider the hooks must not panic.
	e := observability.NewMetricsExtension()
	ctx := context.Background()
	task := newTestTask()

	if err := e.OnTaskSubmitted(ctx, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnConcurrencyChanged(ctx, 2, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := newTestExtension()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := ext.NewRegistry(logger)
	reg.Register(e)

	ctx := context.Background()
	task := newTestTask()

	reg.EmitTaskSubmitted(ctx, task)
	reg.EmitTaskStarted(ctx, task)
	reg.EmitTaskCompleted(ctx, task, 50*time.Millisecond)
	reg.EmitTaskFailed(ctx, task, errors.New("fail"))
	reg.EmitQueueCleared(ctx, 3)
	reg.EmitConcurrencyChanged(ctx, 2, 6)
	reg.EmitSyncCompleted(ctx, "branch-feed", 10, 0)

	checks := []struct {
		name string
		want int64
	}{
		{"circulate.task.submitted", 1},
		{"circulate.task.started", 1},
		{"circulate.task.completed", 1},
		{"circulate.task.failed", 1},
		{"circulate.queue.cleared", 3},
		{"circulate.sync.books", 10},
	}

	for _, c := range checks {
		if got := counterValue(t, reader, c.name); got != c.want {
			t.Errorf("%s: want %d, got %d", c.name, c.want, got)
		}
	}
	if got := gaugeValue(t, reader, "circulate.concurrency.limit"); got != 6 {
		t.Errorf("circulate.concurrency.limit: want 6, got %d", got)
	}
}
