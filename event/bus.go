// Package event provides the in-process event bus carrying lifecycle
// transitions from the engine to wire subscribers and tests.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
package event

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/circulate/id"
)

// defaultBuffer is used when Subscribe is called with a non-positive size.
const defaultBuffer = 8

// Bus is a simple in-memory fanout bus. It owns no background goroutines;
// Publish delivers synchronously with non-blocking sends.
type Bus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: map[uint64]chan Event{}}
}

// Publish fans the event out to all current subscribers. It stamps a fresh
// ID and timestamp when the caller left them zero. Subscribers whose
// buffers are full miss the event.
func (b *Bus) Publish(e Event) {
	if e.ID.IsNil() {
		e.ID = id.NewEventID()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

// Subscribe registers a new subscriber with the given channel buffer and
// returns its receive channel plus an idempotent unsubscribe function.
// Unsubscribing closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)
	subID := b.seq.Add(1)

	b.mu.Lock()
	b.subs[subID] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, subID)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
