package cluster

import (
	"time"

	"github.com/xraph/circulate/id"
)

// InstanceState represents the lifecycle state of an instance.
type InstanceState string

const (
	// InstanceActive means the instance is healthy and executing tasks.
	InstanceActive InstanceState = "active"
	// InstanceDraining means the instance is finishing in-flight tasks
	// but not accepting new ones (graceful shutdown).
	InstanceDraining InstanceState = "draining"
	// InstanceDead means the instance has stopped heartbeating.
	InstanceDead InstanceState = "dead"
)

// Instance represents one Circulate process in a deployment.
type Instance struct {
	ID          id.InstanceID     `json:"id"`
	Hostname    string            `json:"hostname"`
	Concurrency int               `json:"concurrency"`
	State       InstanceState     `json:"state"`
	IsLeader    bool              `json:"is_leader"`
	LeaderUntil *time.Time        `json:"leader_until,omitempty"`
	LastSeen    time.Time         `json:"last_seen"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
