package bbolt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/storage"
	"go.etcd.io/bbolt"
)

// GetTitle returns the enrichment state of one feed.
func (s *Store) GetTitle(ctx context.Context, feedURL string) (storage.FeedTitleRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.FeedTitleRecord{}, err
	}
	var record storage.FeedTitleRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		record, err = getTitle(tx, feedURL)
		return err
	})
	return record, err
}

// ListTitles returns every record in status, or every record when status is empty.
func (s *Store) ListTitles(ctx context.Context, status storage.TitleStatus) ([]storage.FeedTitleRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var records []storage.FeedTitleRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(lookupBucket)).ForEach(func(key, value []byte) error {
			record, err := joinTitle(tx, key, value)
			if err != nil {
				return err
			}
			if status == "" || record.Status == status {
				records = append(records, record)
			}
			return nil
		})
	})
	return records, err
}

// DueLookups returns up to limit pending lookups whose next try is at or before now.
func (s *Store) DueLookups(ctx context.Context, now time.Time, limit int) ([]storage.FeedTitleRecord, error) {
	pending, err := s.ListTitles(ctx, storage.TitlePending)
	if err != nil {
		return nil, err
	}
	var due []storage.FeedTitleRecord
	for _, record := range pending {
		if record.NextTryAt.After(now) {
			continue
		}
		due = append(due, record)
		if limit > 0 && len(due) == limit {
			break
		}
	}
	return due, nil
}

// ResolveTitle records a resolved title for a feed.
func (s *Store) ResolveTitle(ctx context.Context, feedURL, title string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("title is required")
	}
	return s.updateTitle(feedURL, func(record *storage.FeedTitleRecord) {
		record.Title = title
		record.Status = storage.TitleResolved
		record.Attempts++
		record.LastError = ""
		record.ResolvedAt = at.UTC()
		record.NextTryAt = time.Time{}
	})
}

// FailLookup records a failed attempt. The lookup is retried at nextTry, or
// dead-lettered when dead is set.
func (s *Store) FailLookup(ctx context.Context, feedURL string, cause error, nextTry time.Time, dead bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.updateTitle(feedURL, func(record *storage.FeedTitleRecord) {
		record.Attempts++
		if cause != nil {
			record.LastError = cause.Error()
		}
		if dead {
			record.Status = storage.TitleDead
			record.NextTryAt = time.Time{}
			return
		}
		record.NextTryAt = nextTry.UTC()
	})
}

// Requeue moves a dead-lettered lookup back to pending.
func (s *Store) Requeue(ctx context.Context, feedURL string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.updateTitle(feedURL, func(record *storage.FeedTitleRecord) {
		if record.Status != storage.TitleDead {
			return
		}
		record.Status = storage.TitlePending
		record.Attempts = 0
		record.NextTryAt = at.UTC()
	})
}

// updateTitle writes only the resolutions bucket; the queued lookup row stays
// under the projector's control.
func (s *Store) updateTitle(feedURL string, update func(*storage.FeedTitleRecord)) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		record, err := getTitle(tx, feedURL)
		if err != nil {
			return err
		}
		update(&record)
		return putJSON(tx.Bucket([]byte(resolutionBucket)), feedURL, resolutionRow{
			Title:      record.Title,
			Status:     record.Status,
			Attempts:   record.Attempts,
			LastError:  record.LastError,
			NextTryAt:  record.NextTryAt.UTC(),
			ResolvedAt: record.ResolvedAt.UTC(),
		})
	})
}
