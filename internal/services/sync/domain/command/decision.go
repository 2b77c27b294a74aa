package command

import (
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
)

// Decision represents the pure outcome of handling a command.
//
// A decision with neither events nor rejections is a legitimate no-op.
type Decision struct {
	Events     []event.Event
	Rejections []Rejection
}

// Rejection captures a domain-level reason a command was declined.
type Rejection struct {
	Code    string
	Message string
}

// Accept returns a decision that emits the provided events.
func Accept(events ...event.Event) Decision {
	return Decision{Events: append([]event.Event(nil), events...)}
}

// Reject returns a decision that carries the provided rejections.
func Reject(rejections ...Rejection) Decision {
	return Decision{Rejections: append([]Rejection(nil), rejections...)}
}

// NoOp returns a decision that neither emits events nor rejects.
func NoOp() Decision {
	return Decision{}
}

// NewEvent builds an event by copying the shared envelope fields from a command.
// The stream key is left empty; the router stamps it from the routing table.
func NewEvent(cmd Command, eventType event.Type, entityType, entityID string, payloadJSON []byte, now time.Time) event.Event {
	return event.Event{
		Type:        eventType,
		EntityType:  entityType,
		EntityID:    entityID,
		DeviceID:    cmd.Causation.DeviceID,
		DeviceName:  cmd.Causation.DeviceName,
		Timestamp:   now,
		PayloadJSON: payloadJSON,
	}
}
