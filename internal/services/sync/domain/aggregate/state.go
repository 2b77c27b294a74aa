package aggregate

import (
	"fmt"

	"github.com/louisbranch/castsync/internal/services/sync/domain/episode"
	"github.com/louisbranch/castsync/internal/services/sync/domain/playlist"
	"github.com/louisbranch/castsync/internal/services/sync/domain/settings"
	"github.com/louisbranch/castsync/internal/services/sync/domain/subscription"
)

// State captures the full state of one user stream.
//
// Folds never mutate maps reachable from a State they receive, so a State value can
// be shared between the router cache and callers.
type State struct {
	UserID        string                        `json:"user_id"`
	Subscriptions map[string]subscription.State `json:"subscriptions"`
	Episodes      map[string]episode.State      `json:"episodes"`
	Playlists     map[string]playlist.State     `json:"playlists"`
	Settings      settings.State                `json:"settings"`
	// Erasures counts applied history erasures.
	Erasures uint64 `json:"erasures"`
}

// NewState returns the empty state for a user.
func NewState(userID string) State {
	return State{UserID: userID}.normalized()
}

// normalized replaces nil maps with empty ones so equal states encode identically.
func (s State) normalized() State {
	if s.Subscriptions == nil {
		s.Subscriptions = map[string]subscription.State{}
	}
	if s.Episodes == nil {
		s.Episodes = map[string]episode.State{}
	}
	if s.Playlists == nil {
		s.Playlists = map[string]playlist.State{}
	}
	if s.Settings.Privacy == nil {
		s.Settings.Privacy = map[string]bool{}
	}
	if s.Settings.Devices == nil {
		s.Settings.Devices = map[string]settings.Device{}
	}
	return s
}

// AssertState converts an untyped state into State.
//
// A nil state is the empty state; pointers are dereferenced.
func AssertState(state any) (State, error) {
	switch typed := state.(type) {
	case nil:
		return NewState(""), nil
	case State:
		return typed.normalized(), nil
	case *State:
		if typed == nil {
			return NewState(""), nil
		}
		return typed.normalized(), nil
	default:
		return State{}, fmt.Errorf("unsupported state type %T", state)
	}
}
