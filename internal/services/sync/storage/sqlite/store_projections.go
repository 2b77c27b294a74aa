package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/storage"
	"github.com/louisbranch/castsync/internal/services/sync/storage/sqlite/migrations"
)

// readModelTables lists the tables each read model owns.
var readModelTables = map[storage.ReadModel][]string{
	storage.ReadModelSubscriptions: {"subscriptions_view"},
	storage.ReadModelEpisodes:      {"episode_progress_view"},
	storage.ReadModelPlaylists:     {"playlists_view"},
}

// ProjectionStore holds the SQLite read models and projector cursors.
type ProjectionStore struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// OpenProjections opens the read-model database at path.
func OpenProjections(ctx context.Context, path string) (*ProjectionStore, error) {
	sqlDB, err := openDB(ctx, path, migrations.ProjectionsFS, "projections")
	if err != nil {
		return nil, err
	}
	return &ProjectionStore{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the underlying SQLite database.
func (s *ProjectionStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetCursor returns the projector cursor, at zero when it never committed.
func (s *ProjectionStore) GetCursor(ctx context.Context, projector string) (storage.Cursor, error) {
	cursor := storage.Cursor{Projector: projector}
	var position, updatedAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT global_position, updated_at FROM projection_cursors WHERE projector_name = ?`,
		projector,
	).Scan(&position, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cursor, nil
	}
	if err != nil {
		return storage.Cursor{}, fmt.Errorf("get cursor %s: %w", projector, err)
	}
	cursor.Position = uint64(position)
	cursor.UpdatedAt = fromMillis(updatedAt)
	return cursor, nil
}

// ListCursors returns every stored cursor ordered by projector name.
func (s *ProjectionStore) ListCursors(ctx context.Context) ([]storage.Cursor, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT projector_name, global_position, updated_at FROM projection_cursors ORDER BY projector_name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	var cursors []storage.Cursor
	for rows.Next() {
		var (
			cursor              storage.Cursor
			position, updatedAt int64
		)
		if err := rows.Scan(&cursor.Projector, &position, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		cursor.Position = uint64(position)
		cursor.UpdatedAt = fromMillis(updatedAt)
		cursors = append(cursors, cursor)
	}
	return cursors, rows.Err()
}

// Commit applies writes and moves the projector cursor from one position to the
// next in one transaction.
func (s *ProjectionStore) Commit(ctx context.Context, projector string, owns storage.ReadModel, from, to uint64, writes []storage.Mutation) (bool, error) {
	if strings.TrimSpace(projector) == "" {
		return false, fmt.Errorf("projector name is required")
	}
	if to <= from {
		return false, fmt.Errorf("cursor must advance: from %d to %d", from, to)
	}
	if _, ok := readModelTables[owns]; !ok {
		return false, fmt.Errorf("read model %s is not stored in sqlite", owns)
	}
	if err := storage.CheckOwnership(owns, writes); err != nil {
		return false, err
	}

	var applied bool
	err := inTx(ctx, s.sqlDB, "projection commit", func(tx *sql.Tx) error {
		applied = false
		var current int64
		err := tx.QueryRowContext(ctx,
			`SELECT global_position FROM projection_cursors WHERE projector_name = ?`,
			projector,
		).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read cursor %s: %w", projector, err)
		}
		if uint64(current) != from {
			return nil
		}
		for _, write := range writes {
			if err := applyMutation(ctx, tx, write); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO projection_cursors (projector_name, global_position, updated_at)
			 VALUES (?, ?, ?)
			 ON CONFLICT(projector_name) DO UPDATE SET
			     global_position = excluded.global_position,
			     updated_at = excluded.updated_at`,
			projector, int64(to), toMillis(s.now()),
		); err != nil {
			return fmt.Errorf("advance cursor %s: %w", projector, err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Reset truncates the owned read model and moves the cursor back to zero.
func (s *ProjectionStore) Reset(ctx context.Context, projector string, owns storage.ReadModel) error {
	tables, ok := readModelTables[owns]
	if !ok {
		return fmt.Errorf("read model %s is not stored in sqlite", owns)
	}
	return inTx(ctx, s.sqlDB, "projection reset", func(tx *sql.Tx) error {
		for _, table := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("truncate %s: %w", table, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO projection_cursors (projector_name, global_position, updated_at)
			 VALUES (?, 0, ?)
			 ON CONFLICT(projector_name) DO UPDATE SET global_position = 0, updated_at = excluded.updated_at`,
			projector, toMillis(s.now()),
		); err != nil {
			return fmt.Errorf("reset cursor %s: %w", projector, err)
		}
		return nil
	})
}

func applyMutation(ctx context.Context, tx *sql.Tx, write storage.Mutation) error {
	switch m := write.(type) {
	case storage.PutSubscription:
		return putSubscription(ctx, tx, m.Record)
	case storage.DeleteSubscription:
		_, err := tx.ExecContext(ctx,
			`DELETE FROM subscriptions_view WHERE user_id = ? AND feed_url = ?`,
			m.UserID, m.FeedURL,
		)
		return wrapMutation(write, err)
	case storage.ReplaceSubscriptions:
		if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions_view WHERE user_id = ?`, m.UserID); err != nil {
			return wrapMutation(write, err)
		}
		for _, record := range m.Records {
			if err := putSubscription(ctx, tx, record); err != nil {
				return err
			}
		}
		return nil
	case storage.PutEpisodeProgress:
		return putEpisodeProgress(ctx, tx, m.Record)
	case storage.DeleteFeedProgress:
		_, err := tx.ExecContext(ctx,
			`DELETE FROM episode_progress_view WHERE user_id = ? AND feed_url = ?`,
			m.UserID, m.FeedURL,
		)
		return wrapMutation(write, err)
	case storage.ReplaceEpisodeProgress:
		if _, err := tx.ExecContext(ctx, `DELETE FROM episode_progress_view WHERE user_id = ?`, m.UserID); err != nil {
			return wrapMutation(write, err)
		}
		for _, record := range m.Records {
			if err := putEpisodeProgress(ctx, tx, record); err != nil {
				return err
			}
		}
		return nil
	case storage.PutPlaylist:
		return putPlaylist(ctx, tx, m.Record)
	case storage.DeletePlaylist:
		_, err := tx.ExecContext(ctx,
			`DELETE FROM playlists_view WHERE user_id = ? AND playlist_id = ?`,
			m.UserID, m.PlaylistID,
		)
		return wrapMutation(write, err)
	case storage.AddPlaylistItem:
		return editPlaylistItems(ctx, tx, m.UserID, m.PlaylistID, m.UpdatedAt, func(items []string) []string {
			return append(withoutItem(items, m.EpisodeURL), m.EpisodeURL)
		})
	case storage.RemovePlaylistItem:
		return editPlaylistItems(ctx, tx, m.UserID, m.PlaylistID, m.UpdatedAt, func(items []string) []string {
			return withoutItem(items, m.EpisodeURL)
		})
	case storage.ReplacePlaylists:
		if _, err := tx.ExecContext(ctx, `DELETE FROM playlists_view WHERE user_id = ?`, m.UserID); err != nil {
			return wrapMutation(write, err)
		}
		for _, record := range m.Records {
			if err := putPlaylist(ctx, tx, record); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported mutation %T", write)
	}
}

func wrapMutation(write storage.Mutation, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("apply %T: %w", write, err)
}

func putSubscription(ctx context.Context, tx *sql.Tx, record storage.SubscriptionRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO subscriptions_view (user_id, feed_url, device_id, subscribed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, feed_url) DO UPDATE SET
		     device_id = excluded.device_id,
		     subscribed_at = excluded.subscribed_at`,
		record.UserID, record.FeedURL, record.DeviceID, toMillis(record.SubscribedAt),
	)
	if err != nil {
		return fmt.Errorf("put subscription %s/%s: %w", record.UserID, record.FeedURL, err)
	}
	return nil
}

func putEpisodeProgress(ctx context.Context, tx *sql.Tx, record storage.EpisodeProgressRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO episode_progress_view (user_id, feed_url, episode_url, action, position, total, device_id, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, feed_url, episode_url) DO UPDATE SET
		     action = excluded.action,
		     position = excluded.position,
		     total = excluded.total,
		     device_id = excluded.device_id,
		     updated_at = excluded.updated_at`,
		record.UserID, record.FeedURL, record.EpisodeURL, record.Action,
		record.Position, record.Total, record.DeviceID, toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put episode progress %s/%s: %w", record.UserID, record.EpisodeURL, err)
	}
	return nil
}

func putPlaylist(ctx context.Context, tx *sql.Tx, record storage.PlaylistRecord) error {
	items := record.Items
	if items == nil {
		items = []string{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode playlist %s items: %w", record.PlaylistID, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO playlists_view (user_id, playlist_id, name, items_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, playlist_id) DO UPDATE SET
		     name = excluded.name,
		     items_json = excluded.items_json,
		     created_at = excluded.created_at,
		     updated_at = excluded.updated_at`,
		record.UserID, record.PlaylistID, record.Name, string(itemsJSON),
		toMillis(record.CreatedAt), toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put playlist %s/%s: %w", record.UserID, record.PlaylistID, err)
	}
	return nil
}

// editPlaylistItems rewrites the items of a stored playlist. A missing playlist
// is left alone.
func editPlaylistItems(ctx context.Context, tx *sql.Tx, userID, playlistID string, at time.Time, edit func([]string) []string) error {
	var itemsJSON string
	err := tx.QueryRowContext(ctx,
		`SELECT items_json FROM playlists_view WHERE user_id = ? AND playlist_id = ?`,
		userID, playlistID,
	).Scan(&itemsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read playlist %s/%s items: %w", userID, playlistID, err)
	}
	var items []string
	if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
		return fmt.Errorf("decode playlist %s/%s items: %w", userID, playlistID, err)
	}
	items = edit(items)
	if items == nil {
		items = []string{}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode playlist %s/%s items: %w", userID, playlistID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE playlists_view SET items_json = ?, updated_at = ? WHERE user_id = ? AND playlist_id = ?`,
		string(encoded), toMillis(at), userID, playlistID,
	); err != nil {
		return fmt.Errorf("update playlist %s/%s items: %w", userID, playlistID, err)
	}
	return nil
}

func withoutItem(items []string, episodeURL string) []string {
	kept := make([]string, 0, len(items))
	for _, item := range items {
		if item != episodeURL {
			kept = append(kept, item)
		}
	}
	return kept
}

var _ storage.ProjectionStore = (*ProjectionStore)(nil)
