package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action describes what happened to a collection.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionDeleted   Action = "deleted"
	ActionReordered Action = "reordered"
)

// ChangeEvent announces that an ordered collection changed in the store so
// open views can refresh their snapshot.
type ChangeEvent struct {
	EventID   string    `json:"event_id"`
	Kind      Kind      `json:"kind"`
	Parent    string    `json:"parent"`
	Action    Action    `json:"action"`
	EntityID  string    `json:"entity_id,omitempty"`
	Origin    string    `json:"origin,omitempty"`
	EmittedAt time.Time `json:"emitted_at"`
}

// Collection returns the key of the collection the event belongs to.
func (e ChangeEvent) Collection() ParentKey {
	return ParentKey{Kind: e.Kind, Parent: e.Parent}
}

// MarshalBinary serializes the event for Redis pub/sub.
func (e ChangeEvent) MarshalBinary() ([]byte, error) {
	if e.EmittedAt.IsZero() {
		e.EmittedAt = time.Now().UTC()
	}
	type alias ChangeEvent
	return json.Marshal(alias(e))
}

// UnmarshalBinary deserializes an event produced by MarshalBinary.
func (e *ChangeEvent) UnmarshalBinary(data []byte) error {
	type alias ChangeEvent
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("decode change event: %w", err)
	}
	*e = ChangeEvent(decoded)
	return nil
}
