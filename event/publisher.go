package event

import (
	"context"
	"time"

	"github.com/xraph/circulate/sched"
)

// Publisher bridges extension hooks onto a Bus. The engine registers one
// so every lifecycle transition lands on the bus as a typed Event carrying
// the scheduler stats at emission time.
type Publisher struct {
	bus   *Bus
	stats func() sched.Stats
}

// NewPublisher creates a publisher feeding bus. stats is read once per
// emission, inside the hook, so subscribers see the post-transition
// snapshot.
func NewPublisher(bus *Bus, stats func() sched.Stats) *Publisher {
	return &Publisher{bus: bus, stats: stats}
}

// Name implements ext.Extension.
func (p *Publisher) Name() string { return "event-bus" }

// Init implements ext.Extension.
func (p *Publisher) Init(_ context.Context) error { return nil }

// Shutdown implements ext.Extension. The bus itself has no goroutines to
// stop; subscribers own their unsubscribe functions.
func (p *Publisher) Shutdown(_ context.Context) error { return nil }

func (p *Publisher) publish(typ Type, data any) {
	p.bus.Publish(Event{
		Type:  typ,
		Time:  time.Now().UTC(),
		Stats: p.stats(),
		Data:  data,
	})
}

func (p *Publisher) OnTaskSubmitted(_ context.Context, t *sched.Task) error {
	p.publish(TypeTaskSubmitted, TaskData{TaskID: t.ID, Label: t.Label})
	return nil
}

func (p *Publisher) OnTaskStarted(_ context.Context, t *sched.Task) error {
	p.publish(TypeTaskStarted, TaskData{TaskID: t.ID, Label: t.Label})
	return nil
}

func (p *Publisher) OnTaskCompleted(_ context.Context, t *sched.Task, _ time.Duration) error {
	p.publish(TypeTaskCompleted, TaskData{TaskID: t.ID, Label: t.Label})
	return nil
}

func (p *Publisher) OnTaskFailed(_ context.Context, t *sched.Task, taskErr error) error {
	p.publish(TypeTaskFailed, TaskData{TaskID: t.ID, Label: t.Label, Error: taskErr.Error()})
	return nil
}

func (p *Publisher) OnQueueCleared(_ context.Context, dropped int) error {
	p.publish(TypeQueueCleared, ClearData{Dropped: dropped})
	return nil
}

func (p *Publisher) OnConcurrencyChanged(_ context.Context, oldLimit, newLimit int) error {
	p.publish(TypeConcurrencyChanged, ConcurrencyData{Old: oldLimit, New: newLimit})
	return nil
}

func (p *Publisher) OnSyncCompleted(_ context.Context, source string, synced, failed int) error {
	p.publish(TypeSyncCompleted, SyncData{Source: source, Synced: synced, Failed: failed})
	return nil
}

func (p *Publisher) OnEngineStarted(_ context.Context) error {
	p.publish(TypeEngineStarted, nil)
	return nil
}

func (p *Publisher) OnEngineStopped(_ context.Context) error {
	p.publish(TypeEngineStopped, nil)
	return nil
}
