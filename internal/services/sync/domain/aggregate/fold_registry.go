package aggregate

import (
	"github.com/louisbranch/castsync/internal/services/sync/domain/episode"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/domain/playlist"
	"github.com/louisbranch/castsync/internal/services/sync/domain/settings"
	"github.com/louisbranch/castsync/internal/services/sync/domain/subscription"
)

// foldEntry maps a set of event types to the fold that updates one slice of State.
type foldEntry struct {
	types func() []event.Type
	fold  func(state State, evt event.Event) (State, error)
}

// foldEntries returns the fold dispatch table. Adding a slice only requires an
// entry here.
func foldEntries() []foldEntry {
	return []foldEntry{
		{
			types: subscription.FoldHandledTypes,
			fold: func(state State, evt event.Event) (State, error) {
				state.Subscriptions = subscription.Fold(state.Subscriptions, evt)
				return state, nil
			},
		},
		{
			types: episode.FoldHandledTypes,
			fold: func(state State, evt event.Event) (State, error) {
				state.Episodes = episode.Fold(state.Episodes, evt)
				if evt.Type == episode.EventTypeHistoryErased {
					state.Erasures++
				}
				return state, nil
			},
		},
		{
			types: playlist.FoldHandledTypes,
			fold: func(state State, evt event.Event) (State, error) {
				state.Playlists = playlist.Fold(state.Playlists, evt)
				return state, nil
			},
		},
		{
			types: settings.FoldHandledTypes,
			fold: func(state State, evt event.Event) (State, error) {
				state.Settings = settings.Fold(state.Settings, evt)
				return state, nil
			},
		},
		{
			types: func() []event.Type { return []event.Type{EventTypeCheckpoint} },
			fold: func(_ State, evt event.Event) (State, error) {
				return RestoreCheckpoint(evt)
			},
		},
	}
}
