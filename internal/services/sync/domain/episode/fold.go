package episode

import (
	"encoding/json"
	"maps"

	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
)

// Fold applies an event to the recorded progress.
//
// The input map is never mutated; a changed map is returned as a copy.
func Fold(state map[string]State, evt event.Event) map[string]State {
	switch evt.Type {
	case EventTypeActionRecorded:
		var payload RecordPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil || payload.EpisodeURL == "" {
			return state
		}
		next := cloneState(state)
		next[Key(payload.FeedURL, payload.EpisodeURL)] = State{
			EpisodeURL: payload.EpisodeURL,
			FeedURL:    payload.FeedURL,
			Action:     payload.Action,
			Position:   payload.Position,
			Total:      payload.Total,
			DeviceID:   evt.DeviceID,
			UpdatedAt:  evt.Timestamp.UTC(),
		}
		return next
	case EventTypeHistoryErased:
		var payload EraseHistoryPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state
		}
		if !hasFeed(state, payload.FeedURL) {
			return state
		}
		next := cloneState(state)
		maps.DeleteFunc(next, func(_ string, progress State) bool {
			return progress.FeedURL == payload.FeedURL
		})
		return next
	}
	return state
}

// FoldHandledTypes returns the event types folded by this package.
func FoldHandledTypes() []event.Type {
	return []event.Type{EventTypeActionRecorded, EventTypeHistoryErased}
}

func cloneState(state map[string]State) map[string]State {
	if state == nil {
		return make(map[string]State)
	}
	return maps.Clone(state)
}
