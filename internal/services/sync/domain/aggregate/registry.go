package aggregate

import (
	"errors"
	"strings"

	"github.com/louisbranch/castsync/internal/services/sync/domain/command"
	"github.com/louisbranch/castsync/internal/services/sync/domain/episode"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/domain/playlist"
	"github.com/louisbranch/castsync/internal/services/sync/domain/settings"
	"github.com/louisbranch/castsync/internal/services/sync/domain/subscription"
)

// AggregateType names the user aggregate in stream keys and routing.
const AggregateType = "user"

const streamKeyPrefix = AggregateType + "-"

// StreamKey returns the stream key for a user.
func StreamKey(userID string) string {
	return streamKeyPrefix + userID
}

// UserIDFromStreamKey extracts the user id from a user stream key.
func UserIDFromStreamKey(streamKey string) (string, bool) {
	userID, ok := strings.CutPrefix(streamKey, streamKeyPrefix)
	if !ok || userID == "" {
		return "", false
	}
	return userID, true
}

// RegisterCommands registers every user command.
func RegisterCommands(registry *command.Registry) error {
	if registry == nil {
		return errors.New("command registry is required")
	}
	registrars := []func(*command.Registry, string) error{
		subscription.RegisterCommands,
		episode.RegisterCommands,
		playlist.RegisterCommands,
		settings.RegisterCommands,
	}
	for _, register := range registrars {
		if err := register(registry, AggregateType); err != nil {
			return err
		}
	}
	return nil
}

// RegisterEvents registers every user event, including the checkpoint.
func RegisterEvents(registry *event.Registry) error {
	if registry == nil {
		return errors.New("event registry is required")
	}
	registrars := []func(*event.Registry) error{
		subscription.RegisterEvents,
		episode.RegisterEvents,
		playlist.RegisterEvents,
		settings.RegisterEvents,
	}
	for _, register := range registrars {
		if err := register(registry); err != nil {
			return err
		}
	}
	return registry.Register(event.Definition{Type: EventTypeCheckpoint, Kind: event.KindCheckpoint})
}

// NewRegistries builds command and event registries holding every user type.
func NewRegistries() (*command.Registry, *event.Registry, error) {
	commands := command.NewRegistry()
	if err := RegisterCommands(commands); err != nil {
		return nil, nil, err
	}
	events := event.NewRegistry()
	if err := RegisterEvents(events); err != nil {
		return nil, nil, err
	}
	return commands, events, nil
}
