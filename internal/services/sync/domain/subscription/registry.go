package subscription

import (
	"encoding/json"
	"errors"

	"github.com/louisbranch/castsync/internal/services/sync/domain/command"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
)

// RegisterCommands registers subscription commands with the shared registry.
func RegisterCommands(registry *command.Registry, aggregate string) error {
	if registry == nil {
		return errors.New("command registry is required")
	}
	definitions := []command.Definition{
		{Type: CommandTypeSubscribe, Aggregate: aggregate, ValidatePayload: validateFeedPayload},
		{Type: CommandTypeUnsubscribe, Aggregate: aggregate, ValidatePayload: validateFeedPayload},
		{Type: CommandTypeSync, Aggregate: aggregate, ValidatePayload: validateSyncPayload},
	}
	for _, def := range definitions {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// RegisterEvents registers subscription events with the shared registry.
func RegisterEvents(registry *event.Registry) error {
	if registry == nil {
		return errors.New("event registry is required")
	}
	if err := registry.Register(event.Definition{Type: EventTypeSubscribed, Kind: event.KindFact}); err != nil {
		return err
	}
	return registry.Register(event.Definition{Type: EventTypeUnsubscribed, Kind: event.KindFact})
}

func validateFeedPayload(raw json.RawMessage) error {
	var payload SubscribePayload
	return json.Unmarshal(raw, &payload)
}

func validateSyncPayload(raw json.RawMessage) error {
	var payload SyncPayload
	return json.Unmarshal(raw, &payload)
}
