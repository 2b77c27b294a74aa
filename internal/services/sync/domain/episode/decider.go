package episode

import (
	"encoding/json"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/domain/command"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/domain/feedurl"
)

const (
	CommandTypeRecord       command.Type = "episode.record"
	CommandTypeEraseHistory command.Type = "episode.erase_history"
	EventTypeActionRecorded event.Type   = "episode.action_recorded"
	EventTypeHistoryErased  event.Type   = "episode.history_erased"

	// EntityType addresses a feed's listening history. Recorded actions and the
	// erasure that suppresses them share it so compaction can match them.
	EntityType = "history"

	RejectionCodeEpisodeURLRequired = "EPISODE_URL_REQUIRED"
	RejectionCodeFeedURLRequired    = "FEED_URL_REQUIRED"
	RejectionCodeActionInvalid      = "ACTION_INVALID"
	RejectionCodePositionInvalid    = "POSITION_INVALID"
	RejectionCodeNothingToErase     = "NOTHING_TO_ERASE"
	rejectionCodeCommandUnknown     = "COMMAND_TYPE_UNSUPPORTED"
)

// Decide returns the decision for an episode command against the user's recorded
// progress.
func Decide(state map[string]State, cmd command.Command, now func() time.Time) command.Decision {
	if now == nil {
		now = time.Now
	}
	switch cmd.Type {
	case CommandTypeRecord:
		return decideRecord(cmd, now().UTC())
	case CommandTypeEraseHistory:
		var payload EraseHistoryPayload
		_ = json.Unmarshal(cmd.PayloadJSON, &payload)
		feedURL, ok := feedurl.Normalize(payload.FeedURL)
		if !ok {
			return command.Reject(command.Rejection{Code: RejectionCodeFeedURLRequired, Message: "feed url is required"})
		}
		if !hasFeed(state, feedURL) {
			return command.Reject(command.Rejection{Code: RejectionCodeNothingToErase, Message: "no recorded history for " + feedURL})
		}
		payloadJSON, _ := json.Marshal(EraseHistoryPayload{FeedURL: feedURL})
		return command.Accept(command.NewEvent(cmd, EventTypeHistoryErased, EntityType, feedURL, payloadJSON, now().UTC()))
	default:
		return command.Reject(command.Rejection{Code: rejectionCodeCommandUnknown, Message: "unsupported episode command " + string(cmd.Type)})
	}
}

func decideRecord(cmd command.Command, now time.Time) command.Decision {
	var payload RecordPayload
	_ = json.Unmarshal(cmd.PayloadJSON, &payload)

	episodeURL, ok := feedurl.Normalize(payload.EpisodeURL)
	if !ok {
		return command.Reject(command.Rejection{Code: RejectionCodeEpisodeURLRequired, Message: "episode url is required"})
	}
	feedURL, ok := feedurl.Normalize(payload.FeedURL)
	if !ok {
		return command.Reject(command.Rejection{Code: RejectionCodeFeedURLRequired, Message: "feed url is required"})
	}
	if !payload.Action.Valid() {
		return command.Reject(command.Rejection{Code: RejectionCodeActionInvalid, Message: "action must be download, play, delete, or new"})
	}
	if payload.Position < 0 || payload.Total < 0 {
		return command.Reject(command.Rejection{Code: RejectionCodePositionInvalid, Message: "position and total must be non-negative"})
	}
	if payload.Action != ActionPlay && (payload.Position != 0 || payload.Total != 0) {
		return command.Reject(command.Rejection{Code: RejectionCodePositionInvalid, Message: "position is only valid for play actions"})
	}
	if payload.Total > 0 && payload.Position > payload.Total {
		return command.Reject(command.Rejection{Code: RejectionCodePositionInvalid, Message: "position exceeds total"})
	}

	payloadJSON, _ := json.Marshal(RecordPayload{
		EpisodeURL: episodeURL,
		FeedURL:    feedURL,
		Action:     payload.Action,
		Position:   payload.Position,
		Total:      payload.Total,
	})
	return command.Accept(command.NewEvent(cmd, EventTypeActionRecorded, EntityType, feedURL, payloadJSON, now))
}

func hasFeed(state map[string]State, feedURL string) bool {
	for _, progress := range state {
		if progress.FeedURL == feedURL {
			return true
		}
	}
	return false
}
