package playlist

import (
	"encoding/json"
	"errors"

	"github.com/louisbranch/castsync/internal/services/sync/domain/command"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
)

// RegisterCommands registers playlist commands with the shared registry.
func RegisterCommands(registry *command.Registry, aggregate string) error {
	if registry == nil {
		return errors.New("command registry is required")
	}
	validators := map[command.Type]command.PayloadValidator{
		CommandTypeCreate:     decodeInto[CreatePayload],
		CommandTypeDelete:     decodeInto[DeletePayload],
		CommandTypeAddItem:    decodeInto[ItemPayload],
		CommandTypeRemoveItem: decodeInto[ItemPayload],
	}
	for _, t := range []command.Type{CommandTypeCreate, CommandTypeDelete, CommandTypeAddItem, CommandTypeRemoveItem} {
		if err := registry.Register(command.Definition{Type: t, Aggregate: aggregate, ValidatePayload: validators[t]}); err != nil {
			return err
		}
	}
	return nil
}

// RegisterEvents registers playlist events with the shared registry.
func RegisterEvents(registry *event.Registry) error {
	if registry == nil {
		return errors.New("event registry is required")
	}
	for _, t := range FoldHandledTypes() {
		if err := registry.Register(event.Definition{Type: t, Kind: event.KindFact}); err != nil {
			return err
		}
	}
	return nil
}

func decodeInto[T any](raw json.RawMessage) error {
	var payload T
	return json.Unmarshal(raw, &payload)
}
