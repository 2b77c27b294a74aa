package aggregate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
)

// EventTypeCheckpoint carries a full user State as of its sequence.
const EventTypeCheckpoint event.Type = "user.checkpoint"

const checkpointVersion = 1

// CheckpointPayload is the encoded form of a checkpoint event.
type CheckpointPayload struct {
	Version int   `json:"version"`
	State   State `json:"state"`
}

// Checkpoint builds a checkpoint event for the given state. The caller stamps the
// stream key and appends it.
func Checkpoint(state any, now time.Time) (event.Event, error) {
	current, err := AssertState(state)
	if err != nil {
		return event.Event{}, err
	}
	payloadJSON, err := json.Marshal(CheckpointPayload{Version: checkpointVersion, State: current})
	if err != nil {
		return event.Event{}, fmt.Errorf("encode checkpoint: %w", err)
	}
	return event.Event{
		Type:        EventTypeCheckpoint,
		Kind:        event.KindCheckpoint,
		EntityType:  AggregateType,
		EntityID:    current.UserID,
		Timestamp:   now.UTC(),
		PayloadJSON: payloadJSON,
	}, nil
}

// RestoreCheckpoint decodes the state carried by a checkpoint event.
func RestoreCheckpoint(evt event.Event) (State, error) {
	if evt.Type != EventTypeCheckpoint {
		return State{}, fmt.Errorf("event %s is not a checkpoint", evt.Type)
	}
	payload, err := event.DecodePayload[CheckpointPayload](evt)
	if err != nil {
		return State{}, err
	}
	if payload.Version != checkpointVersion {
		return State{}, fmt.Errorf("checkpoint version %d is not supported", payload.Version)
	}
	return payload.State.normalized(), nil
}
