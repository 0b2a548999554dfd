// Package stream provides a real-time event broker for Circulate lifecycle
// events. It bridges the ext.Extension system to connected clients via
// topic-based pub/sub.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Task events.
	EventTaskSubmitted EventType = "task.submitted"
	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"

	// Scheduler state events.
	EventQueueCleared       EventType = "queue.cleared"
	EventConcurrencyChanged EventType = "concurrency.changed"

	// Sync events.
	EventSyncCompleted EventType = "sync.completed"

	// Engine lifecycle events.
	EventEngineStarted EventType = "engine.started"
	EventEngineStopped EventType = "engine.stopped"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// TaskEventData is the payload for task lifecycle events.
type TaskEventData struct {
	TaskID    string `json:"task_id"`
	Label     string `json:"label"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StateEventData is the payload for scheduler state events.
type StateEventData struct {
	Dropped  int `json:"dropped,omitempty"`
	OldLimit int `json:"old_limit,omitempty"`
	NewLimit int `json:"new_limit,omitempty"`
}

// SyncEventData is the payload for sync lifecycle events.
type SyncEventData struct {
	Source string `json:"source"`
	Synced int    `json:"synced"`
	Failed int    `json:"failed"`
}
