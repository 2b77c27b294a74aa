package settings

import (
	"encoding/json"
	"errors"

	"github.com/louisbranch/castsync/internal/services/sync/domain/command"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
)

// RegisterCommands registers settings commands with the shared registry.
func RegisterCommands(registry *command.Registry, aggregate string) error {
	if registry == nil {
		return errors.New("command registry is required")
	}
	if err := registry.Register(command.Definition{
		Type:      CommandTypePrivacySet,
		Aggregate: aggregate,
		ValidatePayload: func(raw json.RawMessage) error {
			var payload PrivacySetPayload
			return json.Unmarshal(raw, &payload)
		},
	}); err != nil {
		return err
	}
	return registry.Register(command.Definition{
		Type:      CommandTypeDeviceRegister,
		Aggregate: aggregate,
		ValidatePayload: func(raw json.RawMessage) error {
			var payload DeviceRegisterPayload
			return json.Unmarshal(raw, &payload)
		},
	})
}

// RegisterEvents registers settings events with the shared registry.
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
