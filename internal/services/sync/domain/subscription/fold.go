package subscription

import (
	"encoding/json"
	"maps"

	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
)

// Fold applies an event to the active subscription set.
//
// The input map is never mutated; a changed set is returned as a copy.
func Fold(state map[string]State, evt event.Event) map[string]State {
	switch evt.Type {
	case EventTypeSubscribed:
		var payload SubscribePayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil || payload.FeedURL == "" {
			return state
		}
		next := cloneState(state)
		next[payload.FeedURL] = State{
			FeedURL:      payload.FeedURL,
			SubscribedAt: evt.Timestamp.UTC(),
			DeviceID:     evt.DeviceID,
		}
		return next
	case EventTypeUnsubscribed:
		var payload UnsubscribePayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state
		}
		if _, ok := state[payload.FeedURL]; !ok {
			return state
		}
		next := cloneState(state)
		delete(next, payload.FeedURL)
		return next
	}
	return state
}

// FoldHandledTypes returns the event types folded by this package.
func FoldHandledTypes() []event.Type {
	return []event.Type{EventTypeSubscribed, EventTypeUnsubscribed}
}

func cloneState(state map[string]State) map[string]State {
	if state == nil {
		return make(map[string]State)
	}
	return maps.Clone(state)
}
