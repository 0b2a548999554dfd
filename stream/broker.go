package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/circulate/ext"
	"github.com/xraph/circulate/sched"
)

// Compile-time interface checks.
var (
	_ ext.Extension          = (*Broker)(nil)
	_ ext.TaskSubmitted      = (*Broker)(nil)
	_ ext.TaskStarted        = (*Broker)(nil)
	_ ext.TaskCompleted      = (*Broker)(nil)
	_ ext.TaskFailed         = (*Broker)(nil)
	_ ext.QueueCleared       = (*Broker)(nil)
	_ ext.ConcurrencyChanged = (*Broker)(nil)
	_ ext.SyncCompleted      = (*Broker)(nil)
	_ ext.EngineStarted      = (*Broker)(nil)
	_ ext.EngineStopped      = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the real-time stream broker. It implements the ext.Extension
// interface to receive lifecycle events and fans them out to subscribers
// via topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// Metrics.
	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	// Config.
	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Init implements ext.Extension.
func (b *Broker) Init(_ context.Context) error { return nil }

// Shutdown closes every subscriber and forgets them.
func (b *Broker) Shutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}

// Topics returns the topic registry for external use (e.g., wire gateway).
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// publish broadcasts an event to all matching topics.
func (b *Broker) publish(evt *Event) {
	topics := ResolveTopics(evt)
	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// ── Task lifecycle hooks ────────────────────────────

func (b *Broker) OnTaskSubmitted(_ context.Context, t *sched.Task) error {
	b.publish(&Event{
		Type:      EventTaskSubmitted,
		Timestamp: time.Now().UTC(),
		Topic:     TaskTopic(t.Label),
		Data: mustMarshal(TaskEventData{
			TaskID: t.ID.String(),
			Label:  t.Label,
		}),
	})
	return nil
}

func (b *Broker) OnTaskStarted(_ context.Context, t *sched.Task) error {
	b.publish(&Event{
		Type:      EventTaskStarted,
		Timestamp: time.Now().UTC(),
		Topic:     TaskTopic(t.Label),
		Data: mustMarshal(TaskEventData{
			TaskID: t.ID.String(),
			Label:  t.Label,
		}),
	})
	return nil
}

func (b *Broker) OnTaskCompleted(_ context.Context, t *sched.Task, elapsed time.Duration) error {
	b.publish(&Event{
		Type:      EventTaskCompleted,
		Timestamp: time.Now().UTC(),
		Topic:     TaskTopic(t.Label),
		Data: mustMarshal(TaskEventData{
			TaskID:    t.ID.String(),
			Label:     t.Label,
			ElapsedMs: elapsed.Milliseconds(),
		}),
	})
	return nil
}

func (b *Broker) OnTaskFailed(_ context.Context, t *sched.Task, taskErr error) error {
	b.publish(&Event{
		Type:      EventTaskFailed,
		Timestamp: time.Now().UTC(),
		Topic:     TaskTopic(t.Label),
		Data: mustMarshal(TaskEventData{
			TaskID: t.ID.String(),
			Label:  t.Label,
			Error:  taskErr.Error(),
		}),
	})
	return nil
}

// ── Scheduler state hooks ───────────────────────────

func (b *Broker) OnQueueCleared(_ context.Context, dropped int) error {
	b.publish(&Event{
		Type:      EventQueueCleared,
		Timestamp: time.Now().UTC(),
		Data: mustMarshal(StateEventData{
			Dropped: dropped,
		}),
	})
	return nil
}

func (b *Broker) OnConcurrencyChanged(_ context.Context, oldLimit, newLimit int) error {
	b.publish(&Event{
		Type:      EventConcurrencyChanged,
		Timestamp: time.Now().UTC(),
		Data: mustMarshal(StateEventData{
			OldLimit: oldLimit,
			NewLimit: newLimit,
		}),
	})
	return nil
}

// ── Sync lifecycle hooks ────────────────────────────

func (b *Broker) OnSyncCompleted(_ context.Context, source string, synced, failed int) error {
	b.publish(&Event{
		Type:      EventSyncCompleted,
		Timestamp: time.Now().UTC(),
		Data: mustMarshal(SyncEventData{
			Source: source,
			Synced: synced,
			Failed: failed,
		}),
	})
	return nil
}

// ── Engine lifecycle hooks ──────────────────────────

func (b *Broker) OnEngineStarted(_ context.Context) error {
	b.publish(&Event{
		Type:      EventEngineStarted,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (b *Broker) OnEngineStopped(_ context.Context) error {
	b.publish(&Event{
		Type:      EventEngineStopped,
		Timestamp: time.Now().UTC(),
	})
	return nil
}
