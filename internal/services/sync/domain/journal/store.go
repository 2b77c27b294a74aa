package journal

import (
	"context"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
)

// Appender appends event batches to a stream.
type Appender interface {
	// Append writes events atomically when the stream is at expectedVersion and
	// returns them with Seq, Position, and ID assigned.
	Append(ctx context.Context, streamKey string, expectedVersion uint64, events []event.Event) ([]event.Event, error)
}

// StreamReader reads one stream.
type StreamReader interface {
	// ReadForward returns events with Seq greater than afterSeq in sequence order.
	// A limit of zero or less returns every remaining event.
	ReadForward(ctx context.Context, streamKey string, afterSeq uint64, limit int) ([]event.Event, error)
	// LatestCheckpoint returns the most recent checkpoint event in the stream.
	LatestCheckpoint(ctx context.Context, streamKey string) (event.Event, error)
	// Version returns the sequence of the last event ever appended to the stream.
	Version(ctx context.Context, streamKey string) (uint64, error)
}

// GlobalReader reads across every stream in global position order.
type GlobalReader interface {
	ReadAllForward(ctx context.Context, afterPosition uint64, limit int) ([]event.Event, error)
}

// Store is the full event log surface used by the router and projectors.
type Store interface {
	Appender
	StreamReader
	GlobalReader
}

// PrunePolicy bounds which covered events a prune may remove.
//
// An event is prunable when its sequence is below the checkpoint, it occurred
// before KeepAfter, and, for deletion events, it occurred before DeletionExpiry.
// The zero policy prunes nothing.
type PrunePolicy struct {
	KeepAfter      time.Time
	DeletionExpiry time.Time
}

// Prunable reports whether evt may be removed below checkpointSeq.
func (p PrunePolicy) Prunable(evt event.Event, checkpointSeq uint64) bool {
	if evt.Seq >= checkpointSeq {
		return false
	}
	if !evt.Timestamp.Before(p.KeepAfter) {
		return false
	}
	if evt.IsDeletion() && !evt.Timestamp.Before(p.DeletionExpiry) {
		return false
	}
	return true
}

// CandidateQuery selects streams worth compacting.
type CandidateQuery struct {
	// OlderThan is the retention threshold: only events strictly older qualify.
	OlderThan time.Time
	Prune     PrunePolicy
	Limit     int
}

// PruneResult reports what a prune removed.
type PruneResult struct {
	CheckpointSeq uint64
	Pruned        int
}

// Compactor is the log surface used by checkpoint compaction.
type Compactor interface {
	// CompactionCandidates lists streams holding an event older than the retention
	// threshold that is either not covered by a checkpoint or prunable.
	CompactionCandidates(ctx context.Context, query CandidateQuery) ([]string, error)
	// SuppressionCandidates lists streams holding a deletion event with targets
	// still present or with a checkpoint written before it.
	SuppressionCandidates(ctx context.Context, limit int) ([]string, error)
	// Suppress removes the fact events each deletion event in the stream targets.
	Suppress(ctx context.Context, streamKey string) (int, error)
	// StaleCheckpoints counts checkpoints in the stream written before one of
	// its deletion events. Their payload may still hold the erased state.
	StaleCheckpoints(ctx context.Context, streamKey string) (int, error)
	// DropStaleCheckpoints removes the stale checkpoints below the receipt's
	// checkpoint, which must itself follow every deletion it supersedes. The
	// receipt is re-checked inside the same transaction.
	DropStaleCheckpoints(ctx context.Context, receipt Receipt) (int, error)
	// Prune removes events below the receipt's checkpoint allowed by policy. The
	// checkpoint is re-read inside the same transaction.
	Prune(ctx context.Context, receipt Receipt, policy PrunePolicy) (PruneResult, error)
}

// Targets reports whether a deletion event suppresses evt.
func Targets(deletion, evt event.Event) bool {
	return deletion.IsDeletion() &&
		evt.Kind == event.KindFact &&
		evt.StreamKey == deletion.StreamKey &&
		evt.Seq < deletion.Seq &&
		evt.EntityType == deletion.EntityType &&
		evt.EntityID == deletion.EntityID
}

// Stale reports whether checkpoint was written before deletion and so may still
// carry the state deletion erased.
func Stale(checkpoint, deletion event.Event) bool {
	return deletion.IsDeletion() &&
		checkpoint.IsCheckpoint() &&
		checkpoint.StreamKey == deletion.StreamKey &&
		checkpoint.Seq < deletion.Seq
}
