package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/domain/journal"
)

// CompactionCandidates lists streams holding an event older than the retention
// threshold that no checkpoint covers yet, or that policy allows pruning.
func (s *EventStore) CompactionCandidates(ctx context.Context, query journal.CandidateQuery) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT DISTINCT e.stream_key
		 FROM events e
		 LEFT JOIN (
		     SELECT stream_key, MAX(seq) AS checkpoint_seq
		     FROM events WHERE kind = ?
		     GROUP BY stream_key
		 ) c ON c.stream_key = e.stream_key
		 WHERE e.kind != ?
		   AND e.occurred_at < ?
		   AND (
		       e.seq > COALESCE(c.checkpoint_seq, 0)
		       OR (
		           e.seq < COALESCE(c.checkpoint_seq, 0)
		           AND e.occurred_at < ?
		           AND (e.kind != ? OR e.occurred_at < ?)
		       )
		   )
		 ORDER BY e.stream_key
		 LIMIT ?`,
		string(event.KindCheckpoint),
		string(event.KindCheckpoint),
		toMillis(query.OlderThan),
		toMillis(query.Prune.KeepAfter),
		string(event.KindDeletion),
		toMillis(query.Prune.DeletionExpiry),
		sqlLimit(query.Limit),
	)
	if err != nil {
		return nil, unavailable("compaction candidates", err)
	}
	return scanStrings(rows)
}

// SuppressionCandidates lists streams whose deletion events still have targets
// or follow a checkpoint.
func (s *EventStore) SuppressionCandidates(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT DISTINCT d.stream_key
		 FROM events d
		 WHERE d.kind = ?
		   AND (
		       EXISTS (
		           SELECT 1 FROM events e
		           WHERE e.stream_key = d.stream_key
		             AND e.kind = ?
		             AND e.entity_type = d.entity_type
		             AND e.entity_id = d.entity_id
		             AND e.seq < d.seq
		       )
		       OR EXISTS (
		           SELECT 1 FROM events c
		           WHERE c.stream_key = d.stream_key
		             AND c.kind = ?
		             AND c.seq < d.seq
		       )
		   )
		 ORDER BY d.stream_key
		 LIMIT ?`,
		string(event.KindDeletion), string(event.KindFact), string(event.KindCheckpoint), sqlLimit(limit),
	)
	if err != nil {
		return nil, unavailable("suppression candidates", err)
	}
	return scanStrings(rows)
}

// Suppress removes fact events targeted by the stream's deletion events.
func (s *EventStore) Suppress(ctx context.Context, streamKey string) (int, error) {
	var removed int64
	err := inTx(ctx, s.sqlDB, "suppress", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM events
			 WHERE stream_key = ?
			   AND kind = ?
			   AND EXISTS (
			       SELECT 1 FROM events d
			       WHERE d.stream_key = events.stream_key
			         AND d.kind = ?
			         AND d.entity_type = events.entity_type
			         AND d.entity_id = events.entity_id
			         AND d.seq > events.seq
			   )`,
			streamKey, string(event.KindFact), string(event.KindDeletion),
		)
		if err != nil {
			return fmt.Errorf("suppress %s: %w", streamKey, err)
		}
		removed, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, unavailable("suppress "+streamKey, err)
	}
	return int(removed), nil
}

// Prune removes events below the receipt's checkpoint that policy allows.
//
// The checkpoint row is re-read inside the deleting transaction; a receipt that
// does not match a stored checkpoint removes nothing.
func (s *EventStore) Prune(ctx context.Context, receipt journal.Receipt, policy journal.PrunePolicy) (journal.PruneResult, error) {
	if !receipt.Valid() {
		return journal.PruneResult{}, journal.ErrCompactionSafety
	}
	var pruned int64
	err := inTx(ctx, s.sqlDB, "prune", func(tx *sql.Tx) error {
		if err := verifyReceipt(ctx, tx, receipt); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx,
			`DELETE FROM events
			 WHERE stream_key = ?
			   AND seq < ?
			   AND occurred_at < ?
			   AND (kind != ? OR occurred_at < ?)`,
			receipt.StreamKey(), int64(receipt.Seq()),
			toMillis(policy.KeepAfter),
			string(event.KindDeletion), toMillis(policy.DeletionExpiry),
		)
		if err != nil {
			return fmt.Errorf("prune %s: %w", receipt.StreamKey(), err)
		}
		pruned, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return journal.PruneResult{}, unavailable("prune "+receipt.StreamKey(), err)
	}
	return journal.PruneResult{CheckpointSeq: receipt.Seq(), Pruned: int(pruned)}, nil
}

// StaleCheckpoints counts checkpoints written before a deletion in the stream.
func (s *EventStore) StaleCheckpoints(ctx context.Context, streamKey string) (int, error) {
	var stale int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events c
		 WHERE c.stream_key = ?
		   AND c.kind = ?
		   AND EXISTS (
		       SELECT 1 FROM events d
		       WHERE d.stream_key = c.stream_key
		         AND d.kind = ?
		         AND d.seq > c.seq
		   )`,
		streamKey, string(event.KindCheckpoint), string(event.KindDeletion),
	).Scan(&stale)
	if err != nil {
		return 0, unavailable("stale checkpoints "+streamKey, err)
	}
	return stale, nil
}

// DropStaleCheckpoints removes checkpoints below the receipt's checkpoint that
// were written before a deletion the receipt's checkpoint already reflects.
func (s *EventStore) DropStaleCheckpoints(ctx context.Context, receipt journal.Receipt) (int, error) {
	if !receipt.Valid() {
		return 0, journal.ErrCompactionSafety
	}
	var dropped int64
	err := inTx(ctx, s.sqlDB, "drop stale checkpoints", func(tx *sql.Tx) error {
		if err := verifyReceipt(ctx, tx, receipt); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx,
			`DELETE FROM events
			 WHERE stream_key = ?
			   AND kind = ?
			   AND seq < ?
			   AND EXISTS (
			       SELECT 1 FROM events d
			       WHERE d.stream_key = events.stream_key
			         AND d.kind = ?
			         AND d.seq > events.seq
			         AND d.seq < ?
			   )`,
			receipt.StreamKey(), string(event.KindCheckpoint), int64(receipt.Seq()),
			string(event.KindDeletion), int64(receipt.Seq()),
		)
		if err != nil {
			return fmt.Errorf("drop stale checkpoints %s: %w", receipt.StreamKey(), err)
		}
		dropped, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, unavailable("drop stale checkpoints "+receipt.StreamKey(), err)
	}
	return int(dropped), nil
}

// verifyReceipt re-reads the receipt's checkpoint row inside tx.
func verifyReceipt(ctx context.Context, tx *sql.Tx, receipt journal.Receipt) error {
	var (
		kind     string
		position int64
	)
	err := tx.QueryRowContext(ctx,
		`SELECT kind, global_position FROM events WHERE stream_key = ? AND seq = ?`,
		receipt.StreamKey(), int64(receipt.Seq()),
	).Scan(&kind, &position)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: checkpoint %s/%d is not stored", journal.ErrCompactionSafety, receipt.StreamKey(), receipt.Seq())
	}
	if err != nil {
		return fmt.Errorf("verify checkpoint %s/%d: %w", receipt.StreamKey(), receipt.Seq(), err)
	}
	if event.Kind(kind) != event.KindCheckpoint || uint64(position) != receipt.Position() {
		return fmt.Errorf("%w: event %s/%d does not match receipt", journal.ErrCompactionSafety, receipt.StreamKey(), receipt.Seq())
	}
	return nil
}

var _ journal.Compactor = (*EventStore)(nil)
