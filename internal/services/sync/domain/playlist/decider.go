package playlist

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/domain/command"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/domain/feedurl"
)

const (
	CommandTypeCreate     command.Type = "playlist.create"
	CommandTypeDelete     command.Type = "playlist.delete"
	CommandTypeAddItem    command.Type = "playlist.add_item"
	CommandTypeRemoveItem command.Type = "playlist.remove_item"
	EventTypeCreated      event.Type   = "playlist.created"
	EventTypeDeleted      event.Type   = "playlist.deleted"
	EventTypeItemAdded    event.Type   = "playlist.item_added"
	EventTypeItemRemoved  event.Type   = "playlist.item_removed"

	EntityType = "playlist"

	RejectionCodePlaylistIDRequired   = "PLAYLIST_ID_REQUIRED"
	RejectionCodePlaylistNameRequired = "PLAYLIST_NAME_REQUIRED"
	RejectionCodePlaylistExists       = "PLAYLIST_EXISTS"
	RejectionCodePlaylistNotFound     = "PLAYLIST_NOT_FOUND"
	RejectionCodeEpisodeURLRequired   = "EPISODE_URL_REQUIRED"
	RejectionCodeItemNotFound         = "ITEM_NOT_FOUND"
	rejectionCodeCommandUnknown       = "COMMAND_TYPE_UNSUPPORTED"
)

// Decide returns the decision for a playlist command against the user's playlists.
func Decide(state map[string]State, cmd command.Command, now func() time.Time) command.Decision {
	if now == nil {
		now = time.Now
	}
	switch cmd.Type {
	case CommandTypeCreate:
		var payload CreatePayload
		_ = json.Unmarshal(cmd.PayloadJSON, &payload)
		playlistID := strings.TrimSpace(payload.PlaylistID)
		if playlistID == "" {
			return reject(RejectionCodePlaylistIDRequired, "playlist id is required")
		}
		name := strings.TrimSpace(payload.Name)
		if name == "" {
			return reject(RejectionCodePlaylistNameRequired, "playlist name is required")
		}
		if _, exists := state[playlistID]; exists {
			return reject(RejectionCodePlaylistExists, "playlist already exists: "+playlistID)
		}
		payloadJSON, _ := json.Marshal(CreatePayload{PlaylistID: playlistID, Name: name})
		return command.Accept(command.NewEvent(cmd, EventTypeCreated, EntityType, playlistID, payloadJSON, now().UTC()))

	case CommandTypeDelete:
		var payload DeletePayload
		_ = json.Unmarshal(cmd.PayloadJSON, &payload)
		playlistID := strings.TrimSpace(payload.PlaylistID)
		if _, exists := state[playlistID]; !exists {
			return reject(RejectionCodePlaylistNotFound, "playlist not found: "+playlistID)
		}
		payloadJSON, _ := json.Marshal(DeletePayload{PlaylistID: playlistID})
		return command.Accept(command.NewEvent(cmd, EventTypeDeleted, EntityType, playlistID, payloadJSON, now().UTC()))

	case CommandTypeAddItem, CommandTypeRemoveItem:
		var payload ItemPayload
		_ = json.Unmarshal(cmd.PayloadJSON, &payload)
		playlistID := strings.TrimSpace(payload.PlaylistID)
		current, exists := state[playlistID]
		if !exists {
			return reject(RejectionCodePlaylistNotFound, "playlist not found: "+playlistID)
		}
		episodeURL, ok := feedurl.Normalize(payload.EpisodeURL)
		if !ok {
			return reject(RejectionCodeEpisodeURLRequired, "episode url is required")
		}
		payloadJSON, _ := json.Marshal(ItemPayload{PlaylistID: playlistID, EpisodeURL: episodeURL})
		if cmd.Type == CommandTypeAddItem {
			if current.HasItem(episodeURL) {
				return command.NoOp()
			}
			return command.Accept(command.NewEvent(cmd, EventTypeItemAdded, EntityType, playlistID, payloadJSON, now().UTC()))
		}
		if !current.HasItem(episodeURL) {
			return reject(RejectionCodeItemNotFound, "episode not in playlist: "+episodeURL)
		}
		return command.Accept(command.NewEvent(cmd, EventTypeItemRemoved, EntityType, playlistID, payloadJSON, now().UTC()))

	default:
		return reject(rejectionCodeCommandUnknown, "unsupported playlist command "+string(cmd.Type))
	}
}

func reject(code, message string) command.Decision {
	return command.Reject(command.Rejection{Code: code, Message: message})
}
