package loom

import "time"

// Entity carries the created/updated timestamps shared by all persisted
// Loom records. Stores refresh UpdatedAt on every write.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity with both stamps set to the current UTC time.
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch refreshes the UpdatedAt stamp.
func (e *Entity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}
