package playlist

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
)

// Fold applies an event to the user's playlists.
//
// Neither the input map nor any item slice it holds is mutated.
func Fold(state map[string]State, evt event.Event) map[string]State {
	switch evt.Type {
	case EventTypeCreated:
		var payload CreatePayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil || payload.PlaylistID == "" {
			return state
		}
		next := cloneState(state)
		at := evt.Timestamp.UTC()
		next[payload.PlaylistID] = State{
			ID:        payload.PlaylistID,
			Name:      payload.Name,
			Items:     []string{},
			CreatedAt: at,
			UpdatedAt: at,
		}
		return next
	case EventTypeDeleted:
		var payload DeletePayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state
		}
		if _, ok := state[payload.PlaylistID]; !ok {
			return state
		}
		next := cloneState(state)
		delete(next, payload.PlaylistID)
		return next
	case EventTypeItemAdded, EventTypeItemRemoved:
		var payload ItemPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state
		}
		current, ok := state[payload.PlaylistID]
		if !ok {
			return state
		}
		items := make([]string, 0, len(current.Items)+1)
		for _, item := range current.Items {
			if item != payload.EpisodeURL {
				items = append(items, item)
			}
		}
		if evt.Type == EventTypeItemAdded {
			items = append(items, payload.EpisodeURL)
		}
		current.Items = slices.Clip(items)
		current.UpdatedAt = evt.Timestamp.UTC()
		next := cloneState(state)
		next[payload.PlaylistID] = current
		return next
	}
	return state
}

// FoldHandledTypes returns the event types folded by this package.
func FoldHandledTypes() []event.Type {
	return []event.Type{EventTypeCreated, EventTypeDeleted, EventTypeItemAdded, EventTypeItemRemoved}
}

func cloneState(state map[string]State) map[string]State {
	if state == nil {
		return make(map[string]State)
	}
	return maps.Clone(state)
}
