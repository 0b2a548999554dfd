package circulate

import "time"

// Entity is the embedded base for all persisted Circulate entities. It
// carries the bookkeeping timestamps every store maintains.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity with both timestamps set to now.
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch updates the entity's modification timestamp.
func (e *Entity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}
