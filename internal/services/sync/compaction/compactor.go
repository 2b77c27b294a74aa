package compaction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/domain/engine"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/domain/journal"
	"github.com/louisbranch/castsync/internal/services/sync/domain/replay"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/louisbranch/castsync/internal/services/sync/compaction")

// Production defaults.
const (
	DefaultInterval          = 5 * time.Minute
	DefaultRetention         = 45 * 24 * time.Hour
	DefaultSafetyWindow      = 31 * 24 * time.Hour
	DefaultDeletionRetention = 30 * 24 * time.Hour
	DefaultBatchSize         = 100
)

var (
	// ErrUnknownAggregate indicates a stream key no configured aggregate owns.
	ErrUnknownAggregate = errors.New("no aggregate owns stream")
	// ErrLogRequired indicates a missing event log.
	ErrLogRequired = errors.New("event log is required")
)

// Log is the event log surface compaction needs.
type Log interface {
	journal.Appender
	journal.StreamReader
	journal.Compactor
}

// Invalidator drops cached stream state after history changes underneath it.
type Invalidator interface {
	Invalidate(streamKey string)
}

// Config controls compaction windows. Zero windows are honoured as zero; use
// DefaultConfig for production values.
type Config struct {
	// Interval between periodic runs.
	Interval time.Duration
	// Retention selects streams holding events older than this.
	Retention time.Duration
	// SafetyWindow keeps events younger than this even when a checkpoint covers
	// them.
	SafetyWindow time.Duration
	// DeletionRetention keeps deletion events younger than this.
	DeletionRetention time.Duration
	// BatchSize bounds the streams handled per run.
	BatchSize int
}

// DefaultConfig returns the production compaction windows.
func DefaultConfig() Config {
	return Config{
		Interval:          DefaultInterval,
		Retention:         DefaultRetention,
		SafetyWindow:      DefaultSafetyWindow,
		DeletionRetention: DefaultDeletionRetention,
		BatchSize:         DefaultBatchSize,
	}
}

func (c Config) validate() error {
	switch {
	case c.Retention < 0:
		return fmt.Errorf("retention must not be negative: %s", c.Retention)
	case c.SafetyWindow < 0:
		return fmt.Errorf("safety window must not be negative: %s", c.SafetyWindow)
	case c.DeletionRetention < 0:
		return fmt.Errorf("deletion retention must not be negative: %s", c.DeletionRetention)
	}
	return nil
}

// Compactor checkpoints and prunes event streams.
type Compactor struct {
	Log        Log
	Aggregates []engine.Aggregate
	Config     Config
	// Cache is told about streams whose stored history changed.
	Cache Invalidator
	Now   func() time.Time
	Logf  func(string, ...any)
}

// Run compacts once immediately and then on every interval until ctx ends.
func (c *Compactor) Run(ctx context.Context) error {
	if err := c.validate(); err != nil {
		return err
	}
	interval := c.Config.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	c.runLogged(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.runLogged(ctx)
		}
	}
}

func (c *Compactor) runLogged(ctx context.Context) {
	report, err := c.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logf("compaction run failed: %v", err)
		}
		return
	}
	for _, stream := range report.Streams {
		if stream.Err != nil {
			c.logf("compaction: stream %s: %v", stream.StreamKey, stream.Err)
		}
		if stream.StaleCheckpoints > 0 {
			c.logf("compaction: stream %s keeps %d checkpoints older than an erasure", stream.StreamKey, stream.StaleCheckpoints)
		}
	}
	if len(report.Streams) > 0 {
		c.logf("%s", report)
	}
}

// RunOnce suppresses erased history and compacts every candidate stream.
//
// Per-stream failures are recorded in the report and do not stop the run.
func (c *Compactor) RunOnce(ctx context.Context) (Report, error) {
	if err := c.validate(); err != nil {
		return Report{}, err
	}
	ctx, span := tracer.Start(ctx, "compaction.RunOnce")
	defer span.End()

	now := c.now()
	report := Report{StartedAt: now}
	index := make(map[string]int)
	record := func(stream StreamReport) {
		if i, ok := index[stream.StreamKey]; ok {
			merged := &report.Streams[i]
			merged.Suppressed += stream.Suppressed
			merged.Redacted += stream.Redacted
			merged.Pruned += stream.Pruned
			merged.StaleCheckpoints = stream.StaleCheckpoints
			merged.CheckpointSeq = stream.CheckpointSeq
			merged.CheckpointAppended = merged.CheckpointAppended || stream.CheckpointAppended
			merged.Skipped = stream.Skipped
			merged.Err = stream.Err
			return
		}
		index[stream.StreamKey] = len(report.Streams)
		report.Streams = append(report.Streams, stream)
	}

	erased, err := c.Log.SuppressionCandidates(ctx, c.batchSize())
	if err != nil {
		return report, c.fail(span, fmt.Errorf("list suppression candidates: %w", err))
	}
	for _, streamKey := range erased {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		stream, err := c.erase(ctx, streamKey, now)
		stream.Err = err
		record(stream)
	}

	candidates, err := c.Log.CompactionCandidates(ctx, journal.CandidateQuery{
		OlderThan: now.Add(-c.Config.Retention),
		Prune:     c.policy(now),
		Limit:     c.batchSize(),
	})
	if err != nil {
		return report, c.fail(span, fmt.Errorf("list compaction candidates: %w", err))
	}
	for _, streamKey := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if i, ok := index[streamKey]; ok && report.Streams[i].CheckpointSeq > 0 {
			continue
		}
		stream, err := c.compact(ctx, streamKey, now)
		stream.Err = err
		record(stream)
	}

	report.FinishedAt = c.now()
	checkpoints, suppressed, pruned, failed := report.Totals()
	span.SetAttributes(
		attribute.Int("castsync.streams", len(report.Streams)),
		attribute.Int("castsync.checkpoints", checkpoints),
		attribute.Int("castsync.suppressed", suppressed),
		attribute.Int("castsync.pruned", pruned),
		attribute.Int("castsync.failed", failed),
	)
	return report, nil
}

// CompactStream compacts one stream now, regardless of its age, with the same
// ordering as a periodic run: suppress, checkpoint, then prune.
func (c *Compactor) CompactStream(ctx context.Context, streamKey string) (StreamReport, error) {
	if err := c.validate(); err != nil {
		return StreamReport{}, err
	}
	streamKey = strings.TrimSpace(streamKey)
	if streamKey == "" {
		return StreamReport{}, journal.ErrStreamKeyRequired
	}
	return c.compact(ctx, streamKey, c.now())
}

// erase suppresses the stream's erased facts. When a checkpoint written before
// the erasure survives, the stream is compacted too so a fresh checkpoint
// replaces it.
func (c *Compactor) erase(ctx context.Context, streamKey string, now time.Time) (StreamReport, error) {
	stream := StreamReport{StreamKey: streamKey}
	suppressed, err := c.Log.Suppress(ctx, streamKey)
	if err != nil {
		return stream, fmt.Errorf("suppress: %w", err)
	}
	stream.Suppressed = suppressed
	if suppressed > 0 {
		c.invalidate(streamKey)
	}
	stale, err := c.Log.StaleCheckpoints(ctx, streamKey)
	if err != nil {
		return stream, fmt.Errorf("count stale checkpoints: %w", err)
	}
	if stale == 0 {
		return stream, nil
	}
	compacted, err := c.compact(ctx, streamKey, now)
	compacted.Suppressed += suppressed
	return compacted, err
}

func (c *Compactor) compact(ctx context.Context, streamKey string, now time.Time) (StreamReport, error) {
	ctx, span := tracer.Start(ctx, "compaction.CompactStream")
	defer span.End()
	span.SetAttributes(attribute.String("castsync.stream_key", streamKey))

	stream := StreamReport{StreamKey: streamKey}
	agg, id, err := c.aggregateFor(streamKey)
	if err != nil {
		return stream, c.fail(span, err)
	}

	suppressed, err := c.Log.Suppress(ctx, streamKey)
	if err != nil {
		return stream, c.fail(span, fmt.Errorf("suppress: %w", err))
	}
	stream.Suppressed = suppressed
	if suppressed > 0 {
		c.invalidate(streamKey)
	}

	rebuilt, err := replay.Rebuild(ctx, c.Log, agg.Folder, streamKey, func() any { return agg.NewState(id) })
	if err != nil {
		return stream, c.fail(span, fmt.Errorf("rebuild: %w", err))
	}
	if rebuilt.LastSeq == 0 {
		stream.Skipped = "stream is empty"
		return stream, nil
	}

	var checkpoint event.Event
	if rebuilt.CheckpointSeq > 0 && rebuilt.CheckpointSeq == rebuilt.LastSeq {
		checkpoint, err = c.Log.LatestCheckpoint(ctx, streamKey)
		if err != nil {
			return stream, c.fail(span, fmt.Errorf("load checkpoint: %w", err))
		}
	} else {
		draft, err := agg.Checkpoint(rebuilt.State, now)
		if err != nil {
			return stream, c.fail(span, fmt.Errorf("encode checkpoint: %w", err))
		}
		stored, err := c.Log.Append(ctx, streamKey, rebuilt.LastSeq, []event.Event{draft})
		if errors.Is(err, journal.ErrConflict) {
			// A command landed after the rebuild; the next run sees it.
			stream.Skipped = "stream moved during compaction"
			err = c.countStale(ctx, span, &stream)
			return stream, err
		}
		if err != nil {
			return stream, c.fail(span, fmt.Errorf("append checkpoint: %w", err))
		}
		if len(stored) != 1 {
			return stream, c.fail(span, fmt.Errorf("append checkpoint: log returned %d events", len(stored)))
		}
		checkpoint = stored[0]
		stream.CheckpointAppended = true
	}

	receipt, err := journal.NewReceipt(checkpoint)
	if err != nil {
		return stream, c.fail(span, err)
	}
	stream.CheckpointSeq = receipt.Seq()
	redacted, err := c.Log.DropStaleCheckpoints(ctx, receipt)
	if err != nil {
		return stream, c.fail(span, fmt.Errorf("drop stale checkpoints: %w", err))
	}
	stream.Redacted = redacted
	if redacted > 0 {
		c.invalidate(streamKey)
	}
	result, err := c.Log.Prune(ctx, receipt, c.policy(now))
	if err != nil {
		return stream, c.fail(span, fmt.Errorf("prune: %w", err))
	}
	stream.Pruned = result.Pruned
	if result.Pruned > 0 {
		c.invalidate(streamKey)
	}
	span.SetAttributes(
		attribute.Int64("castsync.checkpoint_seq", int64(stream.CheckpointSeq)),
		attribute.Int("castsync.redacted", stream.Redacted),
		attribute.Int("castsync.pruned", stream.Pruned),
	)
	err = c.countStale(ctx, span, &stream)
	return stream, err
}

// countStale records how many checkpoints still predate an erasure.
func (c *Compactor) countStale(ctx context.Context, span trace.Span, stream *StreamReport) error {
	stale, err := c.Log.StaleCheckpoints(ctx, stream.StreamKey)
	if err != nil {
		return c.fail(span, fmt.Errorf("count stale checkpoints: %w", err))
	}
	stream.StaleCheckpoints = stale
	return nil
}

// policy derives the prune windows relative to now. Events exactly at a window
// boundary are kept.
func (c *Compactor) policy(now time.Time) journal.PrunePolicy {
	return journal.PrunePolicy{
		KeepAfter:      now.Add(-c.Config.SafetyWindow),
		DeletionExpiry: now.Add(-c.Config.DeletionRetention),
	}
}

func (c *Compactor) aggregateFor(streamKey string) (engine.Aggregate, string, error) {
	for _, agg := range c.Aggregates {
		id, ok := strings.CutPrefix(streamKey, agg.Type+"-")
		if ok && id != "" {
			return agg, id, nil
		}
	}
	return engine.Aggregate{}, "", fmt.Errorf("%w: %s", ErrUnknownAggregate, streamKey)
}

func (c *Compactor) validate() error {
	if c == nil || c.Log == nil {
		return ErrLogRequired
	}
	if len(c.Aggregates) == 0 {
		return errors.New("at least one aggregate is required")
	}
	for _, agg := range c.Aggregates {
		if agg.Folder == nil || agg.NewState == nil {
			return fmt.Errorf("aggregate %s cannot be rebuilt", agg.Type)
		}
		if agg.Checkpoint == nil {
			return fmt.Errorf("aggregate %s has no checkpoint encoder", agg.Type)
		}
	}
	return c.Config.validate()
}

func (c *Compactor) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
	return err
}

func (c *Compactor) invalidate(streamKey string) {
	if c.Cache != nil {
		c.Cache.Invalidate(streamKey)
	}
}

func (c *Compactor) batchSize() int {
	if c.Config.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return c.Config.BatchSize
}

func (c *Compactor) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *Compactor) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}
