package episode

import (
	"encoding/json"
	"errors"

	"github.com/louisbranch/castsync/internal/services/sync/domain/command"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
)

// RegisterCommands registers episode commands with the shared registry.
func RegisterCommands(registry *command.Registry, aggregate string) error {
	if registry == nil {
		return errors.New("command registry is required")
	}
	if err := registry.Register(command.Definition{
		Type:      CommandTypeRecord,
		Aggregate: aggregate,
		ValidatePayload: func(raw json.RawMessage) error {
			var payload RecordPayload
			return json.Unmarshal(raw, &payload)
		},
	}); err != nil {
		return err
	}
	return registry.Register(command.Definition{
		Type:      CommandTypeEraseHistory,
		Aggregate: aggregate,
		ValidatePayload: func(raw json.RawMessage) error {
			var payload EraseHistoryPayload
			return json.Unmarshal(raw, &payload)
		},
	})
}

// RegisterEvents registers episode events with the shared registry.
func RegisterEvents(registry *event.Registry) error {
	if registry == nil {
		return errors.New("event registry is required")
	}
	if err := registry.Register(event.Definition{Type: EventTypeActionRecorded, Kind: event.KindFact}); err != nil {
		return err
	}
	return registry.Register(event.Definition{Type: EventTypeHistoryErased, Kind: event.KindDeletion})
}
