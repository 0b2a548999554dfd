package event_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/circulate/event"
	"github.com/xraph/circulate/ext"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/sched"
)

// The publisher must satisfy every hook the registry dispatches.
var (
	_ ext.Extension          = (*event.Publisher)(nil)
	_ ext.TaskSubmitted      = (*event.Publisher)(nil)
	_ ext.TaskStarted        = (*event.Publisher)(nil)
	_ ext.TaskCompleted      = (*event.Publisher)(nil)
	_ ext.TaskFailed         = (*event.Publisher)(nil)
	_ ext.QueueCleared       = (*event.Publisher)(nil)
	_ ext.ConcurrencyChanged = (*event.Publisher)(nil)
	_ ext.SyncCompleted      = (*event.Publisher)(nil)
	_ ext.EngineStarted      = (*event.Publisher)(nil)
	_ ext.EngineStopped      = (*event.Publisher)(nil)
)

func recvEvent(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return event.Event{}
	}
}

func TestPublisher_TaskEventsCarryStats(t *testing.T) {
	bus := event.NewBus()
	stats := sched.Stats{Queued: 3, Running: 1, Concurrency: 2}
	pub := event.NewPublisher(bus, func() sched.Stats { return stats })

	ch, unsub := bus.Subscribe(8)
	defer unsub()

	task := &sched.Task{ID: id.NewTaskID(), Label: "loan.borrow"}
	ctx := context.Background()

	if err := pub.OnTaskSubmitted(ctx, task); err != nil {
		t.Fatalf("OnTaskSubmitted: %v", err)
	}
	got := recvEvent(t, ch)
	if got.Type != event.TypeTaskSubmitted {
		t.Errorf("Type = %q, want %q", got.Type, event.TypeTaskSubmitted)
	}
	if got.Stats != stats {
		t.Errorf("Stats = %+v, want %+v", got.Stats, stats)
	}
	data, ok := got.Data.(event.TaskData)
	if !ok {
		t.Fatalf("Data is %T, want event.TaskData", got.Data)
	}
	if data.TaskID != task.ID || data.Label != "loan.borrow" {
		t.Errorf("Data = %+v", data)
	}

	if err := pub.OnTaskFailed(ctx, task, errors.New("no copies")); err != nil {
		t.Fatalf("OnTaskFailed: %v", err)
	}
	got = recvEvent(t, ch)
	if got.Type != event.TypeTaskFailed {
		t.Errorf("Type = %q, want %q", got.Type, event.TypeTaskFailed)
	}
	if data := got.Data.(event.TaskData); data.Error != "no copies" {
		t.Errorf("Error = %q, want %q", data.Error, "no copies")
	}
}

func TestPublisher_TransitionPayloads(t *testing.T) {
	bus := event.NewBus()
	pub := event.NewPublisher(bus, func() sched.Stats { return sched.Stats{Concurrency: 4} })

	ch, unsub := bus.Subscribe(8)
	defer unsub()
	ctx := context.Background()

	pub.OnQueueCleared(ctx, 7)
	if data := recvEvent(t, ch).Data.(event.ClearData); data.Dropped != 7 {
		t.Errorf("Dropped = %d, want 7", data.Dropped)
	}

	pub.OnConcurrencyChanged(ctx, 2, 4)
	if data := recvEvent(t, ch).Data.(event.ConcurrencyData); data.Old != 2 || data.New != 4 {
		t.Errorf("ConcurrencyData = %+v", data)
	}

	pub.OnSyncCompleted(ctx, "city-library", 10, 2)
	data := recvEvent(t, ch).Data.(event.SyncData)
	if data.Source != "city-library" || data.Synced != 10 || data.Failed != 2 {
		t.Errorf("SyncData = %+v", data)
	}

	pub.OnEngineStarted(ctx)
	if got := recvEvent(t, ch); got.Type != event.TypeEngineStarted || got.Data != nil {
		t.Errorf("got %+v", got)
	}

	pub.OnEngineStopped(ctx)
	if got := recvEvent(t, ch); got.Type != event.TypeEngineStopped {
		t.Errorf("Type = %q, want %q", got.Type, event.TypeEngineStopped)
	}
}
