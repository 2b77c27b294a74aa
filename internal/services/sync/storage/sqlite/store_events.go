package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/domain/journal"
	"github.com/louisbranch/castsync/internal/services/sync/storage/sqlite/migrations"
)

const eventColumns = `global_position, stream_key, seq, event_id, event_type, kind, entity_type, entity_id, device_id, device_name, occurred_at, payload_json`

// EventStore is the SQLite event log.
type EventStore struct {
	sqlDB    *sql.DB
	registry *event.Registry
	now      func() time.Time
}

// OpenEvents opens the event log at path, validating appends against registry.
func OpenEvents(ctx context.Context, path string, registry *event.Registry) (*EventStore, error) {
	if registry == nil {
		return nil, fmt.Errorf("event registry is required")
	}
	sqlDB, err := openDB(ctx, path, migrations.EventsFS, "events")
	if err != nil {
		return nil, err
	}
	return &EventStore{sqlDB: sqlDB, registry: registry, now: time.Now}, nil
}

// Close closes the underlying SQLite database.
//
// Close is nil-safe so callers can defer it in all startup paths.
func (s *EventStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Append writes events atomically when the stream is at expectedVersion.
//
// The stream row acts as the version guard: the conditional update only matches
// when no other writer has moved the stream, and the event inserts share its
// transaction.
func (s *EventStore) Append(ctx context.Context, streamKey string, expectedVersion uint64, events []event.Event) ([]event.Event, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("event store is not configured")
	}
	prepared, err := journal.PrepareBatch(s.registry, streamKey, events)
	if err != nil {
		return nil, err
	}
	streamKey = strings.TrimSpace(streamKey)

	var stored []event.Event
	err = inTx(ctx, s.sqlDB, "append", func(tx *sql.Tx) error {
		stored = make([]event.Event, 0, len(prepared))
		now := toMillis(s.now())
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO streams (stream_key, version, updated_at) VALUES (?, 0, ?)
			 ON CONFLICT(stream_key) DO NOTHING`,
			streamKey, now,
		); err != nil {
			return fmt.Errorf("ensure stream %s: %w", streamKey, err)
		}

		nextVersion := expectedVersion + uint64(len(prepared))
		result, err := tx.ExecContext(ctx,
			`UPDATE streams SET version = ?, updated_at = ? WHERE stream_key = ? AND version = ?`,
			int64(nextVersion), now, streamKey, int64(expectedVersion),
		)
		if err != nil {
			return fmt.Errorf("advance stream %s: %w", streamKey, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("inspect stream %s advance: %w", streamKey, err)
		}
		if rows == 0 {
			var actual int64
			if err := tx.QueryRowContext(ctx, `SELECT version FROM streams WHERE stream_key = ?`, streamKey).Scan(&actual); err != nil {
				return fmt.Errorf("read stream %s version: %w", streamKey, err)
			}
			return &journal.ConflictError{StreamKey: streamKey, Expected: expectedVersion, Actual: uint64(actual)}
		}

		for i, evt := range prepared {
			evt.Seq = expectedVersion + uint64(i) + 1
			payload := evt.PayloadJSON
			if payload == nil {
				payload = []byte{}
			}
			result, err := tx.ExecContext(ctx,
				`INSERT INTO events (stream_key, seq, event_id, event_type, kind, entity_type, entity_id, device_id, device_name, occurred_at, payload_json)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				evt.StreamKey, int64(evt.Seq), evt.ID, string(evt.Type), string(evt.Kind),
				evt.EntityType, evt.EntityID, evt.DeviceID, evt.DeviceName,
				toMillis(evt.Timestamp), payload,
			)
			if err != nil {
				if isConstraintError(err) {
					return &journal.ConflictError{StreamKey: streamKey, Expected: expectedVersion, Actual: evt.Seq}
				}
				return fmt.Errorf("insert event %s/%d: %w", streamKey, evt.Seq, err)
			}
			position, err := result.LastInsertId()
			if err != nil {
				return fmt.Errorf("read event %s/%d position: %w", streamKey, evt.Seq, err)
			}
			evt.Position = uint64(position)
			stored = append(stored, evt)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("append "+streamKey, err)
	}
	return stored, nil
}

// ReadForward returns stream events with Seq greater than afterSeq.
func (s *EventStore) ReadForward(ctx context.Context, streamKey string, afterSeq uint64, limit int) ([]event.Event, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE stream_key = ? AND seq > ?
		 ORDER BY seq
		 LIMIT ?`,
		streamKey, int64(afterSeq), sqlLimit(limit),
	)
	if err != nil {
		return nil, unavailable("read stream "+streamKey, err)
	}
	return scanEvents(rows)
}

// ReadAllForward returns events after afterPosition across every stream.
func (s *EventStore) ReadAllForward(ctx context.Context, afterPosition uint64, limit int) ([]event.Event, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE global_position > ?
		 ORDER BY global_position
		 LIMIT ?`,
		int64(afterPosition), sqlLimit(limit),
	)
	if err != nil {
		return nil, unavailable("read all", err)
	}
	return scanEvents(rows)
}

// LatestCheckpoint returns the most recent checkpoint in the stream.
func (s *EventStore) LatestCheckpoint(ctx context.Context, streamKey string) (event.Event, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE stream_key = ? AND kind = ?
		 ORDER BY seq DESC
		 LIMIT 1`,
		streamKey, string(event.KindCheckpoint),
	)
	evt, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Event{}, journal.ErrCheckpointNotFound
	}
	if err != nil {
		return event.Event{}, unavailable("latest checkpoint "+streamKey, err)
	}
	return evt, nil
}

// Version returns the sequence of the last event appended to the stream.
func (s *EventStore) Version(ctx context.Context, streamKey string) (uint64, error) {
	var version int64
	err := s.sqlDB.QueryRowContext(ctx, `SELECT version FROM streams WHERE stream_key = ?`, streamKey).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("stream version "+streamKey, err)
	}
	return uint64(version), nil
}

// ListStreams returns stream keys after afterKey in key order.
func (s *EventStore) ListStreams(ctx context.Context, afterKey string, limit int) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT stream_key FROM streams WHERE stream_key > ? ORDER BY stream_key LIMIT ?`,
		afterKey, sqlLimit(limit),
	)
	if err != nil {
		return nil, unavailable("list streams", err)
	}
	return scanStrings(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (event.Event, error) {
	var (
		position, seq, occurredAt int64
		evtType, kind             string
		evt                       event.Event
	)
	if err := row.Scan(
		&position, &evt.StreamKey, &seq, &evt.ID, &evtType, &kind,
		&evt.EntityType, &evt.EntityID, &evt.DeviceID, &evt.DeviceName,
		&occurredAt, &evt.PayloadJSON,
	); err != nil {
		return event.Event{}, err
	}
	evt.Position = uint64(position)
	evt.Seq = uint64(seq)
	evt.Type = event.Type(evtType)
	evt.Kind = event.Kind(kind)
	evt.Timestamp = fromMillis(occurredAt)
	return evt, nil
}

func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	defer rows.Close()
	var events []event.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, unavailable("scan event", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate events", err)
	}
	return events, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, unavailable("scan row", err)
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate rows", err)
	}
	return values, nil
}

// sqlLimit maps "no limit" to SQLite's negative LIMIT.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// unavailable classifies storage failures as ErrUnavailable while letting
// log outcomes and cancellation through unchanged.
func unavailable(op string, err error) error {
	switch {
	case errors.Is(err, journal.ErrConflict),
		errors.Is(err, journal.ErrCompactionSafety),
		errors.Is(err, journal.ErrUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %s: %w", journal.ErrUnavailable, op, err)
}

var _ journal.Store = (*EventStore)(nil)
