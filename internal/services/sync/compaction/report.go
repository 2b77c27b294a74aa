package compaction

import (
	"fmt"
	"time"
)

// StreamReport describes what one stream compaction did.
type StreamReport struct {
	StreamKey string
	// CheckpointSeq is the checkpoint the prune was anchored on; zero when the
	// stream was skipped or failed before one existed.
	CheckpointSeq      uint64
	CheckpointAppended bool
	Suppressed         int
	// Redacted counts checkpoints written before an erasure that were removed
	// once a newer checkpoint replaced them.
	Redacted int
	Pruned   int
	// StaleCheckpoints counts checkpoints still written before an erasure when
	// the stream was left. They are retried by the next run.
	StaleCheckpoints int
	// Skipped explains why the stream was left for a later run.
	Skipped string
	Err     error
}

// Report summarizes one compaction run.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Streams    []StreamReport
}

// Totals sums the per-stream results.
func (r Report) Totals() (checkpoints, suppressed, pruned, failed int) {
	for _, stream := range r.Streams {
		if stream.CheckpointAppended {
			checkpoints++
		}
		suppressed += stream.Suppressed
		pruned += stream.Pruned
		if stream.Err != nil {
			failed++
		}
	}
	return checkpoints, suppressed, pruned, failed
}

// String renders the log line for a run.
func (r Report) String() string {
	checkpoints, suppressed, pruned, failed := r.Totals()
	return fmt.Sprintf("compaction: %d streams, %d checkpoints, %d suppressed, %d pruned, %d failed in %s",
		len(r.Streams), checkpoints, suppressed, pruned, failed, r.FinishedAt.Sub(r.StartedAt))
}
