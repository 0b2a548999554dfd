package event

import (
	"time"

	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/sched"
)

// Type names the kind of lifecycle transition an event describes.
type Type string

// Event types for every observable transition.
const (
	TypeTaskSubmitted      Type = "task.submitted"
	TypeTaskStarted        Type = "task.started"
	TypeTaskCompleted      Type = "task.completed"
	TypeTaskFailed         Type = "task.failed"
	TypeQueueCleared       Type = "queue.cleared"
	TypeConcurrencyChanged Type = "concurrency.changed"
	TypeSyncCompleted      Type = "sync.completed"
	TypeEngineStarted      Type = "engine.started"
	TypeEngineStopped      Type = "engine.stopped"
)

// Event represents one lifecycle transition published to the bus. Every
// event carries the scheduler stats snapshot taken at emission time, so
// subscribers can derive progress without calling back into the engine.
type Event struct {
	ID    id.EventID  `json:"id" msgpack:"id"`
	Type  Type        `json:"type" msgpack:"type"`
	Time  time.Time   `json:"time" msgpack:"time"`
	Stats sched.Stats `json:"stats" msgpack:"stats"`
	Data  any         `json:"data,omitempty" msgpack:"data,omitempty"`
}

// TaskData is the payload for task lifecycle events.
type TaskData struct {
	TaskID id.TaskID `json:"task_id" msgpack:"task_id"`
	Label  string    `json:"label" msgpack:"label"`
	Error  string    `json:"error,omitempty" msgpack:"error,omitempty"`
}

// ClearData is the payload for queue.cleared events.
type ClearData struct {
	Dropped int `json:"dropped" msgpack:"dropped"`
}

// ConcurrencyData is the payload for concurrency.changed events.
type ConcurrencyData struct {
	Old int `json:"old" msgpack:"old"`
	New int `json:"new" msgpack:"new"`
}

// SyncData is the payload for sync.completed events.
type SyncData struct {
	Source string `json:"source" msgpack:"source"`
	Synced int    `json:"synced" msgpack:"synced"`
	Failed int    `json:"failed" msgpack:"failed"`
}
