package aggregate

import (
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/domain/command"
	"github.com/louisbranch/castsync/internal/services/sync/domain/episode"
	"github.com/louisbranch/castsync/internal/services/sync/domain/playlist"
	"github.com/louisbranch/castsync/internal/services/sync/domain/settings"
	"github.com/louisbranch/castsync/internal/services/sync/domain/subscription"
)

const rejectionCodeCommandUnknown = "COMMAND_TYPE_UNSUPPORTED"

// Decider routes user commands to the slice that owns them.
type Decider struct{}

// Decide returns the decision for a user command. It reads state only.
func (Decider) Decide(state any, cmd command.Command, now func() time.Time) command.Decision {
	current, err := AssertState(state)
	if err != nil {
		return command.Reject(command.Rejection{Code: "STATE_INVALID", Message: err.Error()})
	}
	switch cmd.Type {
	case subscription.CommandTypeSubscribe, subscription.CommandTypeUnsubscribe, subscription.CommandTypeSync:
		return subscription.Decide(current.Subscriptions, cmd, now)
	case episode.CommandTypeRecord, episode.CommandTypeEraseHistory:
		return episode.Decide(current.Episodes, cmd, now)
	case playlist.CommandTypeCreate, playlist.CommandTypeDelete, playlist.CommandTypeAddItem, playlist.CommandTypeRemoveItem:
		return playlist.Decide(current.Playlists, cmd, now)
	case settings.CommandTypePrivacySet, settings.CommandTypeDeviceRegister:
		return settings.Decide(current.Settings, cmd, now)
	default:
		return command.Reject(command.Rejection{Code: rejectionCodeCommandUnknown, Message: "unsupported user command " + string(cmd.Type)})
	}
}
