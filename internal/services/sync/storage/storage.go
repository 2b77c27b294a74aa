package storage

import (
	"context"
	"time"

	apperrors "github.com/louisbranch/castsync/internal/platform/errors"
)

// ErrNotFound indicates a requested persistence record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ReadModel names a set of tables owned by exactly one projector.
type ReadModel string

const (
	ReadModelSubscriptions ReadModel = "subscriptions"
	ReadModelEpisodes      ReadModel = "episodes"
	ReadModelPlaylists     ReadModel = "playlists"
	ReadModelFeedTitles    ReadModel = "feed_titles"
)

// SubscriptionRecord is one row of the subscriptions view.
type SubscriptionRecord struct {
	UserID       string
	FeedURL      string
	DeviceID     string
	SubscribedAt time.Time
}

// EpisodeProgressRecord is one row of the episode progress view.
type EpisodeProgressRecord struct {
	UserID     string
	FeedURL    string
	EpisodeURL string
	Action     string
	Position   int64
	Total      int64
	DeviceID   string
	UpdatedAt  time.Time
}

// PlaylistRecord is one row of the playlists view.
type PlaylistRecord struct {
	UserID     string
	PlaylistID string
	Name       string
	Items      []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FeedTitleRecord is the enrichment state of one feed.
type FeedTitleRecord struct {
	FeedURL    string
	Title      string
	Status     TitleStatus
	Attempts   int
	LastError  string
	NextTryAt  time.Time
	ResolvedAt time.Time
}

// TitleStatus tracks a feed title lookup.
type TitleStatus string

const (
	TitlePending  TitleStatus = "pending"
	TitleResolved TitleStatus = "resolved"
	TitleDead     TitleStatus = "dead"
)

// Cursor is a projector's durable position in the global log.
type Cursor struct {
	Projector string
	Position  uint64
	UpdatedAt time.Time
}

// CursorStore reads projector cursors.
type CursorStore interface {
	// GetCursor returns the projector's cursor; a projector that never committed
	// is at position zero.
	GetCursor(ctx context.Context, projector string) (Cursor, error)
	ListCursors(ctx context.Context) ([]Cursor, error)
}

// ProjectionStore applies projector write sets and cursor advances atomically.
type ProjectionStore interface {
	CursorStore
	// Commit applies writes and moves the cursor from one position to the next in
	// one transaction. It reports false without writing when the stored cursor is
	// not at from, so a replayed or raced commit never lands twice or skips ahead.
	// Writes against any read model other than owns are rejected.
	Commit(ctx context.Context, projector string, owns ReadModel, from, to uint64, writes []Mutation) (bool, error)
	// Reset truncates the owned read model and moves the cursor back to zero.
	Reset(ctx context.Context, projector string, owns ReadModel) error
}

// ViewReader queries the SQLite-backed read models.
type ViewReader interface {
	ListSubscriptions(ctx context.Context, userID string) ([]SubscriptionRecord, error)
	// ListEpisodeProgress returns progress for userID, restricted to feedURL when
	// it is not empty.
	ListEpisodeProgress(ctx context.Context, userID, feedURL string) ([]EpisodeProgressRecord, error)
	ListPlaylists(ctx context.Context, userID string) ([]PlaylistRecord, error)
	GetPlaylist(ctx context.Context, userID, playlistID string) (PlaylistRecord, error)
}
