package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/storage"
	"go.etcd.io/bbolt"
)

const (
	cursorBucket     = "cursors"
	lookupBucket     = "lookups"
	resolutionBucket = "resolutions"
)

// Store provides a BoltDB-backed feed title store.
//
// The lookups bucket belongs to the feed_titles projector and holds only what
// replay derives from the log. The resolutions bucket belongs to the
// enrichment worker and survives Reset; reads join the two.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type cursorRow struct {
	Position  uint64    `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
}

type lookupRow struct {
	FeedURL     string    `json:"feed_url"`
	RequestedAt time.Time `json:"requested_at"`
}

type resolutionRow struct {
	Title      string              `json:"title,omitempty"`
	Status     storage.TitleStatus `json:"status"`
	Attempts   int                 `json:"attempts"`
	LastError  string              `json:"last_error,omitempty"`
	NextTryAt  time.Time           `json:"next_try_at"`
	ResolvedAt time.Time           `json:"resolved_at"`
}

// GetCursor returns the projector cursor, at zero when it never committed.
func (s *Store) GetCursor(ctx context.Context, projector string) (storage.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return storage.Cursor{}, err
	}
	cursor := storage.Cursor{Projector: projector}
	err := s.db.View(func(tx *bbolt.Tx) error {
		row, ok, err := readCursor(tx, projector)
		if err != nil || !ok {
			return err
		}
		cursor.Position = row.Position
		cursor.UpdatedAt = row.UpdatedAt
		return nil
	})
	if err != nil {
		return storage.Cursor{}, err
	}
	return cursor, nil
}

// ListCursors returns every stored cursor ordered by projector name.
func (s *Store) ListCursors(ctx context.Context) ([]storage.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var cursors []storage.Cursor
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(cursorBucket)).ForEach(func(key, value []byte) error {
			var row cursorRow
			if err := json.Unmarshal(value, &row); err != nil {
				return fmt.Errorf("unmarshal cursor %s: %w", key, err)
			}
			cursors = append(cursors, storage.Cursor{Projector: string(key), Position: row.Position, UpdatedAt: row.UpdatedAt})
			return nil
		})
	})
	return cursors, err
}

// Commit applies title lookups and moves the projector cursor from one position
// to the next in one transaction. Feeds already known or queued are left alone.
func (s *Store) Commit(ctx context.Context, projector string, owns storage.ReadModel, from, to uint64, writes []storage.Mutation) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if strings.TrimSpace(projector) == "" {
		return false, fmt.Errorf("projector name is required")
	}
	if to <= from {
		return false, fmt.Errorf("cursor must advance: from %d to %d", from, to)
	}
	if owns != storage.ReadModelFeedTitles {
		return false, fmt.Errorf("read model %s is not stored in bbolt", owns)
	}
	if err := storage.CheckOwnership(owns, writes); err != nil {
		return false, err
	}

	var applied bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		row, _, err := readCursor(tx, projector)
		if err != nil {
			return err
		}
		if row.Position != from {
			return nil
		}
		lookups := tx.Bucket([]byte(lookupBucket))
		for _, write := range writes {
			lookup, ok := write.(storage.EnqueueTitleLookup)
			if !ok {
				return fmt.Errorf("unsupported mutation %T", write)
			}
			if strings.TrimSpace(lookup.FeedURL) == "" {
				return fmt.Errorf("feed url is required")
			}
			if lookups.Get([]byte(lookup.FeedURL)) != nil {
				continue
			}
			row := lookupRow{FeedURL: lookup.FeedURL, RequestedAt: lookup.RequestedAt.UTC()}
			if err := putJSON(lookups, lookup.FeedURL, row); err != nil {
				return err
			}
		}
		if err := writeCursor(tx, projector, cursorRow{Position: to, UpdatedAt: s.now().UTC()}); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// Reset drops every queued lookup and moves the cursor back to zero. Resolved
// titles are kept so a replay that queues the same feed again finds them.
func (s *Store) Reset(ctx context.Context, projector string, owns storage.ReadModel) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if owns != storage.ReadModelFeedTitles {
		return fmt.Errorf("read model %s is not stored in bbolt", owns)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(lookupBucket)); err != nil {
			return fmt.Errorf("drop lookup bucket: %w", err)
		}
		if _, err := tx.CreateBucket([]byte(lookupBucket)); err != nil {
			return fmt.Errorf("create lookup bucket: %w", err)
		}
		return writeCursor(tx, projector, cursorRow{UpdatedAt: s.now().UTC()})
	})
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{cursorBucket, lookupBucket, resolutionBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

func readCursor(tx *bbolt.Tx, projector string) (cursorRow, bool, error) {
	payload := tx.Bucket([]byte(cursorBucket)).Get([]byte(projector))
	if payload == nil {
		return cursorRow{}, false, nil
	}
	var row cursorRow
	if err := json.Unmarshal(payload, &row); err != nil {
		return cursorRow{}, false, fmt.Errorf("unmarshal cursor %s: %w", projector, err)
	}
	return row, true, nil
}

func writeCursor(tx *bbolt.Tx, projector string, row cursorRow) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal cursor %s: %w", projector, err)
	}
	return tx.Bucket([]byte(cursorBucket)).Put([]byte(projector), payload)
}

func putJSON(bucket *bbolt.Bucket, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return bucket.Put([]byte(key), payload)
}

// joinTitle merges a queued lookup with whatever enrichment recorded for it.
// A feed with no resolution yet is pending from the time it was requested.
func joinTitle(tx *bbolt.Tx, key, value []byte) (storage.FeedTitleRecord, error) {
	var lookup lookupRow
	if err := json.Unmarshal(value, &lookup); err != nil {
		return storage.FeedTitleRecord{}, fmt.Errorf("unmarshal lookup %s: %w", key, err)
	}
	record := storage.FeedTitleRecord{
		FeedURL:   lookup.FeedURL,
		Status:    storage.TitlePending,
		NextTryAt: lookup.RequestedAt,
	}
	payload := tx.Bucket([]byte(resolutionBucket)).Get(key)
	if payload == nil {
		return record, nil
	}
	var row resolutionRow
	if err := json.Unmarshal(payload, &row); err != nil {
		return storage.FeedTitleRecord{}, fmt.Errorf("unmarshal resolution %s: %w", key, err)
	}
	record.Title = row.Title
	record.Status = row.Status
	record.Attempts = row.Attempts
	record.LastError = row.LastError
	record.NextTryAt = row.NextTryAt
	record.ResolvedAt = row.ResolvedAt
	return record, nil
}

func getTitle(tx *bbolt.Tx, feedURL string) (storage.FeedTitleRecord, error) {
	value := tx.Bucket([]byte(lookupBucket)).Get([]byte(feedURL))
	if value == nil {
		return storage.FeedTitleRecord{}, storage.ErrNotFound
	}
	return joinTitle(tx, []byte(feedURL), value)
}

var _ storage.ProjectionStore = (*Store)(nil)
