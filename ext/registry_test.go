package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/circulate/ext"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/sched"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// baseExt provides the required lifecycle methods so hook-specific test
// extensions can embed it.
type baseExt struct {
	name string
}

func (e *baseExt) Name() string                   { return e.name }
func (e *baseExt) Init(_ context.Context) error   { return nil }
func (e *baseExt) Shutdown(_ context.Context) error { return nil }

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	baseExt
	calls []string
}

func newAllHooksExt() *allHooksExt {
	return &allHooksExt{baseExt: baseExt{name: "all-hooks"}}
}

func (e *allHooksExt) OnTaskSubmitted(_ context.Context, _ *sched.Task) error {
	e.calls = append(e.calls, "OnTaskSubmitted")
	return nil
}

func (e *allHooksExt) OnTaskStarted(_ context.Context, _ *sched.Task) error {
	e.calls = append(e.calls, "OnTaskStarted")
	return nil
}

func (e *allHooksExt) OnTaskCompleted(_ context.Context, _ *sched.Task, _ time.Duration) error {
	e.calls = append(e.calls, "OnTaskCompleted")
	return nil
}

func (e *allHooksExt) OnTaskFailed(_ context.Context, _ *sched.Task, _ error) error {
	e.calls = append(e.calls, "OnTaskFailed")
	return nil
}

func (e *allHooksExt) OnQueueCleared(_ context.Context, _ int) error {
	e.calls = append(e.calls, "OnQueueCleared")
	return nil
}

func (e *allHooksExt) OnConcurrencyChanged(_ context.Context, _, _ int) error {
	e.calls = append(e.calls, "OnConcurrencyChanged")
	return nil
}

func (e *allHooksExt) OnSyncCompleted(_ context.Context, _ string, _, _ int) error {
	e.calls = append(e.calls, "OnSyncCompleted")
	return nil
}

func (e *allHooksExt) OnEngineStarted(_ context.Context) error {
	e.calls = append(e.calls, "OnEngineStarted")
	return nil
}

func (e *allHooksExt) OnEngineStopped(_ context.Context) error {
	e.calls = append(e.calls, "OnEngineStopped")
	return nil
}

// taskOnlyExt only implements task submission and completion hooks.
type taskOnlyExt struct {
	baseExt
	calls []string
}

func newTaskOnlyExt() *taskOnlyExt {
	return &taskOnlyExt{baseExt: baseExt{name: "task-only"}}
}

func (e *taskOnlyExt) OnTaskSubmitted(_ context.Context, _ *sched.Task) error {
	e.calls = append(e.calls, "OnTaskSubmitted")
	return nil
}

func (e *taskOnlyExt) OnTaskCompleted(_ context.Context, _ *sched.Task, _ time.Duration) error {
	e.calls = append(e.calls, "OnTaskCompleted")
	return nil
}

// failingExt fails every hook it implements.
type failingExt struct {
	baseExt
}

func newFailingExt() *failingExt {
	return &failingExt{baseExt: baseExt{name: "failing"}}
}

func (e *failingExt) OnTaskSubmitted(_ context.Context, _ *sched.Task) error {
	return errors.New("hook failure")
}

// panickyExt panics in its hook.
type panickyExt struct {
	baseExt
}

func newPanickyExt() *panickyExt {
	return &panickyExt{baseExt: baseExt{name: "panicky"}}
}

func (e *panickyExt) OnTaskSubmitted(_ context.Context, _ *sched.Task) error {
	panic("hook panic")
}

func newTask() *sched.Task {
	return &sched.Task{ID: id.NewTaskID(), Label: "book.add"}
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_TypeCaching(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := newAllHooksExt()
	to := newTaskOnlyExt()
	r.Register(all)
	r.Register(to)

	ctx := context.Background()
	task := newTask()

	// Both implement OnTaskSubmitted.
	r.EmitTaskSubmitted(ctx, task)
	if len(all.calls) != 1 || all.calls[0] != "OnTaskSubmitted" {
		t.Fatalf("all: expected [OnTaskSubmitted], got %v", all.calls)
	}
	if len(to.calls) != 1 || to.calls[0] != "OnTaskSubmitted" {
		t.Fatalf("to: expected [OnTaskSubmitted], got %v", to.calls)
	}

	// Only all implements OnTaskStarted → to not called.
	r.EmitTaskStarted(ctx, task)
	if len(all.calls) != 2 || all.calls[1] != "OnTaskStarted" {
		t.Fatalf("all: expected OnTaskStarted as 2nd, got %v", all.calls)
	}
	if len(to.calls) != 1 {
		t.Fatalf("to: should still have 1 call, got %v", to.calls)
	}
}

func TestRegistry_AllTaskHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := newAllHooksExt()
	r.Register(all)

	ctx := context.Background()
	task := newTask()

	r.EmitTaskSubmitted(ctx, task)
	r.EmitTaskStarted(ctx, task)
	r.EmitTaskCompleted(ctx, task, time.Second)
	r.EmitTaskFailed(ctx, task, errors.New("fail"))

	expected := []string{
		"OnTaskSubmitted", "OnTaskStarted", "OnTaskCompleted", "OnTaskFailed",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_StateAndLifecycleHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := newAllHooksExt()
	r.Register(all)

	ctx := context.Background()
	r.EmitQueueCleared(ctx, 3)
	r.EmitConcurrencyChanged(ctx, 2, 4)
	r.EmitSyncCompleted(ctx, "open-library", 10, 1)
	r.EmitEngineStarted(ctx)
	r.EmitEngineStopped(ctx)

	expected := []string{
		"OnQueueCleared", "OnConcurrencyChanged", "OnSyncCompleted",
		"OnEngineStarted", "OnEngineStopped",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	failing := newFailingExt()
	all := newAllHooksExt()

	// Register failing first, then all-hooks. Both should be called.
	r.Register(failing)
	r.Register(all)

	ctx := context.Background()

	// No panic, no error propagation. allHooksExt should still fire.
	r.EmitTaskSubmitted(ctx, newTask())

	if len(all.calls) != 1 || all.calls[0] != "OnTaskSubmitted" {
		t.Fatalf("all: expected [OnTaskSubmitted] despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_HookPanicsContained(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	panicky := newPanickyExt()
	all := newAllHooksExt()

	r.Register(panicky)
	r.Register(all)

	ctx := context.Background()

	// The panicking hook must not take down the emit or skip later hooks.
	r.EmitTaskSubmitted(ctx, newTask())

	if len(all.calls) != 1 || all.calls[0] != "OnTaskSubmitted" {
		t.Fatalf("all: expected [OnTaskSubmitted] despite panicky ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ctx := context.Background()

	// None of these should panic or error.
	r.EmitTaskSubmitted(ctx, newTask())
	r.EmitTaskStarted(ctx, newTask())
	r.EmitTaskCompleted(ctx, newTask(), time.Second)
	r.EmitTaskFailed(ctx, newTask(), errors.New("x"))
	r.EmitQueueCleared(ctx, 0)
	r.EmitConcurrencyChanged(ctx, 1, 2)
	r.EmitSyncCompleted(ctx, "s", 0, 0)
	r.EmitEngineStarted(ctx)
	r.EmitEngineStopped(ctx)
}

func TestRegistry_InitAllPropagatesError(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(newAllHooksExt())
	r.Register(&initFailExt{baseExt{name: "bad-init"}})

	err := r.InitAll(context.Background())
	if err == nil {
		t.Fatal("expected error from failing Init")
	}
}

type initFailExt struct {
	baseExt
}

func (e *initFailExt) Init(_ context.Context) error { return errors.New("init failure") }

func TestRegistry_ShutdownAllReverseOrder(t *testing.T) {
	r := ext.NewRegistry(slog.Default())

	var order []string
	r.Register(&orderedExt{name: "first", order: &order})
	r.Register(&orderedExt{name: "second", order: &order})

	r.ShutdownAll(context.Background())

	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("expected reverse shutdown order [second first], got %v", order)
	}
}

type orderedExt struct {
	name  string
	order *[]string
}

func (e *orderedExt) Name() string                 { return e.name }
func (e *orderedExt) Init(_ context.Context) error { return nil }
func (e *orderedExt) Shutdown(_ context.Context) error {
	*e.order = append(*e.order, e.name)
	return nil
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ext1 := newAllHooksExt()
	ext2 := newAllHooksExt()
	r.Register(ext1)
	r.Register(ext2)

	ctx := context.Background()
	r.EmitTaskSubmitted(ctx, newTask())

	// Both should be called.
	if len(ext1.calls) != 1 {
		t.Errorf("ext1: expected 1 call, got %d", len(ext1.calls))
	}
	if len(ext2.calls) != 1 {
		t.Errorf("ext2: expected 1 call, got %d", len(ext2.calls))
	}
}
