package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/louisbranch/castsync/internal/services/sync/storage"
)

// ListSubscriptions returns a user's subscriptions ordered by feed URL.
func (s *ProjectionStore) ListSubscriptions(ctx context.Context, userID string) ([]storage.SubscriptionRecord, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT user_id, feed_url, device_id, subscribed_at
		 FROM subscriptions_view WHERE user_id = ? ORDER BY feed_url`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var records []storage.SubscriptionRecord
	for rows.Next() {
		var (
			record       storage.SubscriptionRecord
			subscribedAt int64
		)
		if err := rows.Scan(&record.UserID, &record.FeedURL, &record.DeviceID, &subscribedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		record.SubscribedAt = fromMillis(subscribedAt)
		records = append(records, record)
	}
	return records, rows.Err()
}

// ListEpisodeProgress returns a user's progress, optionally for one feed.
func (s *ProjectionStore) ListEpisodeProgress(ctx context.Context, userID, feedURL string) ([]storage.EpisodeProgressRecord, error) {
	query := `SELECT user_id, feed_url, episode_url, action, position, total, device_id, updated_at
		 FROM episode_progress_view WHERE user_id = ?`
	args := []any{userID}
	if feedURL != "" {
		query += ` AND feed_url = ?`
		args = append(args, feedURL)
	}
	query += ` ORDER BY feed_url, episode_url`

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list episode progress: %w", err)
	}
	defer rows.Close()

	var records []storage.EpisodeProgressRecord
	for rows.Next() {
		var (
			record    storage.EpisodeProgressRecord
			updatedAt int64
		)
		if err := rows.Scan(
			&record.UserID, &record.FeedURL, &record.EpisodeURL, &record.Action,
			&record.Position, &record.Total, &record.DeviceID, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan episode progress: %w", err)
		}
		record.UpdatedAt = fromMillis(updatedAt)
		records = append(records, record)
	}
	return records, rows.Err()
}

// ListPlaylists returns a user's playlists ordered by id.
func (s *ProjectionStore) ListPlaylists(ctx context.Context, userID string) ([]storage.PlaylistRecord, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT user_id, playlist_id, name, items_json, created_at, updated_at
		 FROM playlists_view WHERE user_id = ? ORDER BY playlist_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}
	defer rows.Close()

	var records []storage.PlaylistRecord
	for rows.Next() {
		record, err := scanPlaylist(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetPlaylist returns one playlist or storage.ErrNotFound.
func (s *ProjectionStore) GetPlaylist(ctx context.Context, userID, playlistID string) (storage.PlaylistRecord, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT user_id, playlist_id, name, items_json, created_at, updated_at
		 FROM playlists_view WHERE user_id = ? AND playlist_id = ?`,
		userID, playlistID,
	)
	record, err := scanPlaylist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.PlaylistRecord{}, storage.ErrNotFound
	}
	return record, err
}

func scanPlaylist(row rowScanner) (storage.PlaylistRecord, error) {
	var (
		record               storage.PlaylistRecord
		itemsJSON            string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&record.UserID, &record.PlaylistID, &record.Name, &itemsJSON, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PlaylistRecord{}, err
		}
		return storage.PlaylistRecord{}, fmt.Errorf("scan playlist: %w", err)
	}
	if err := json.Unmarshal([]byte(itemsJSON), &record.Items); err != nil {
		return storage.PlaylistRecord{}, fmt.Errorf("decode playlist %s items: %w", record.PlaylistID, err)
	}
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

var _ storage.ViewReader = (*ProjectionStore)(nil)
