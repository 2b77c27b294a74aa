package storage

import (
	"fmt"
	"time"

	apperrors "github.com/louisbranch/castsync/internal/platform/errors"
)

// ErrReadModelNotOwned indicates a write set touches a read model the committing
// projector does not own.
var ErrReadModelNotOwned = apperrors.New(apperrors.CodeProjectorApply, "read model not owned by projector")

// Mutation is one idempotent change to a read model. Applying the same mutation
// twice leaves the read model as applying it once.
type Mutation interface {
	ReadModel() ReadModel
}

// CheckOwnership rejects writes against any read model other than owns.
func CheckOwnership(owns ReadModel, writes []Mutation) error {
	for _, write := range writes {
		if write == nil {
			return fmt.Errorf("nil mutation for read model %s", owns)
		}
		if write.ReadModel() != owns {
			return fmt.Errorf("%w: %T writes %s, projector owns %s", ErrReadModelNotOwned, write, write.ReadModel(), owns)
		}
	}
	return nil
}

// PutSubscription upserts one subscription row.
type PutSubscription struct{ Record SubscriptionRecord }

// DeleteSubscription removes one subscription row if present.
type DeleteSubscription struct{ UserID, FeedURL string }

// ReplaceSubscriptions swaps every subscription row of a user.
type ReplaceSubscriptions struct {
	UserID  string
	Records []SubscriptionRecord
}

// PutEpisodeProgress upserts one progress row.
type PutEpisodeProgress struct{ Record EpisodeProgressRecord }

// DeleteFeedProgress removes every progress row of a user under one feed.
type DeleteFeedProgress struct{ UserID, FeedURL string }

// ReplaceEpisodeProgress swaps every progress row of a user.
type ReplaceEpisodeProgress struct {
	UserID  string
	Records []EpisodeProgressRecord
}

// PutPlaylist upserts one playlist row.
type PutPlaylist struct{ Record PlaylistRecord }

// DeletePlaylist removes one playlist row if present.
type DeletePlaylist struct{ UserID, PlaylistID string }

// AddPlaylistItem moves an episode to the end of a playlist.
type AddPlaylistItem struct {
	UserID, PlaylistID, EpisodeURL string
	UpdatedAt                      time.Time
}

// RemovePlaylistItem drops an episode from a playlist if present.
type RemovePlaylistItem struct {
	UserID, PlaylistID, EpisodeURL string
	UpdatedAt                      time.Time
}

// ReplacePlaylists swaps every playlist row of a user.
type ReplacePlaylists struct {
	UserID  string
	Records []PlaylistRecord
}

// EnqueueTitleLookup asks for a feed title unless one is known or queued.
type EnqueueTitleLookup struct {
	FeedURL     string
	RequestedAt time.Time
}

func (PutSubscription) ReadModel() ReadModel        { return ReadModelSubscriptions }
func (DeleteSubscription) ReadModel() ReadModel     { return ReadModelSubscriptions }
func (ReplaceSubscriptions) ReadModel() ReadModel   { return ReadModelSubscriptions }
func (PutEpisodeProgress) ReadModel() ReadModel     { return ReadModelEpisodes }
func (DeleteFeedProgress) ReadModel() ReadModel     { return ReadModelEpisodes }
func (ReplaceEpisodeProgress) ReadModel() ReadModel { return ReadModelEpisodes }
func (PutPlaylist) ReadModel() ReadModel            { return ReadModelPlaylists }
func (DeletePlaylist) ReadModel() ReadModel         { return ReadModelPlaylists }
func (AddPlaylistItem) ReadModel() ReadModel        { return ReadModelPlaylists }
func (RemovePlaylistItem) ReadModel() ReadModel     { return ReadModelPlaylists }
func (ReplacePlaylists) ReadModel() ReadModel       { return ReadModelPlaylists }
func (EnqueueTitleLookup) ReadModel() ReadModel     { return ReadModelFeedTitles }
