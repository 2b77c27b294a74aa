package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the event type string.
type Type string

// Kind classifies how the journal and compactor treat an event.
type Kind string

const (
	// KindFact is an ordinary domain fact.
	KindFact Kind = "fact"
	// KindCheckpoint carries a full aggregate state as of its sequence.
	KindCheckpoint Kind = "checkpoint"
	// KindDeletion makes a prior subtree of history inert.
	KindDeletion Kind = "deletion"
)

// Event captures the canonical event envelope.
//
// Seq and Position are assigned by the journal at append time; callers leave them
// zero.
type Event struct {
	ID          string
	StreamKey   string
	Seq         uint64
	Position    uint64
	Type        Type
	Kind        Kind
	EntityType  string
	EntityID    string
	DeviceID    string
	DeviceName  string
	Timestamp   time.Time
	PayloadJSON []byte
}

// IsCheckpoint reports whether the event carries a full state snapshot.
func (e Event) IsCheckpoint() bool {
	return e.Kind == KindCheckpoint
}

// IsDeletion reports whether the event is a deletion marker.
func (e Event) IsDeletion() bool {
	return e.Kind == KindDeletion
}

// DecodePayload unmarshals the event payload into target.
func DecodePayload[T any](evt Event) (T, error) {
	var payload T
	if len(evt.PayloadJSON) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w", evt.Type, err)
	}
	return payload, nil
}
