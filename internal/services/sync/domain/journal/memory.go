package journal

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
)

// Memory is an in-process event log.
type Memory struct {
	registry *event.Registry

	mu           sync.Mutex
	events       []event.Event
	versions     map[string]uint64
	lastPosition uint64
}

// NewMemory creates an empty in-memory log that validates appends against registry.
func NewMemory(registry *event.Registry) *Memory {
	return &Memory{
		registry: registry,
		versions: make(map[string]uint64),
	}
}

// Append writes events when the stream is at expectedVersion.
func (m *Memory) Append(ctx context.Context, streamKey string, expectedVersion uint64, events []event.Event) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.New("journal is required")
	}
	prepared, err := PrepareBatch(m.registry, streamKey, events)
	if err != nil {
		return nil, err
	}
	streamKey = strings.TrimSpace(streamKey)

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.versions[streamKey]
	if current != expectedVersion {
		return nil, &ConflictError{StreamKey: streamKey, Expected: expectedVersion, Actual: current}
	}
	for i := range prepared {
		current++
		m.lastPosition++
		prepared[i].Seq = current
		prepared[i].Position = m.lastPosition
	}
	m.events = append(m.events, prepared...)
	m.versions[streamKey] = current
	return cloneEvents(prepared), nil
}

// ReadForward returns stream events after afterSeq.
func (m *Memory) ReadForward(ctx context.Context, streamKey string, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []event.Event
	for _, evt := range m.events {
		if evt.StreamKey != streamKey || evt.Seq <= afterSeq {
			continue
		}
		out = append(out, evt)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return cloneEvents(out), nil
}

// ReadAllForward returns events after afterPosition across every stream.
func (m *Memory) ReadAllForward(ctx context.Context, afterPosition uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	start := sort.Search(len(m.events), func(i int) bool { return m.events[i].Position > afterPosition })
	end := len(m.events)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return cloneEvents(m.events[start:end]), nil
}

// LatestCheckpoint returns the most recent checkpoint in the stream.
func (m *Memory) LatestCheckpoint(ctx context.Context, streamKey string) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if evt, ok := m.latestCheckpointLocked(streamKey); ok {
		return cloneEvent(evt), nil
	}
	return event.Event{}, ErrCheckpointNotFound
}

// Version returns the last sequence appended to the stream.
func (m *Memory) Version(ctx context.Context, streamKey string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.versions[streamKey], nil
}

// CompactionCandidates lists streams with old uncovered or prunable events.
func (m *Memory) CompactionCandidates(ctx context.Context, query CandidateQuery) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	checkpoints := make(map[string]uint64)
	for _, evt := range m.events {
		if evt.IsCheckpoint() {
			checkpoints[evt.StreamKey] = evt.Seq
		}
	}
	seen := make(map[string]struct{})
	var keys []string
	for _, evt := range m.events {
		if evt.IsCheckpoint() || !evt.Timestamp.Before(query.OlderThan) {
			continue
		}
		if _, ok := seen[evt.StreamKey]; ok {
			continue
		}
		checkpointSeq := checkpoints[evt.StreamKey]
		if evt.Seq > checkpointSeq || query.Prune.Prunable(evt, checkpointSeq) {
			seen[evt.StreamKey] = struct{}{}
			keys = append(keys, evt.StreamKey)
		}
	}
	sort.Strings(keys)
	if query.Limit > 0 && len(keys) > query.Limit {
		keys = keys[:query.Limit]
	}
	return keys, nil
}

// SuppressionCandidates lists streams whose deletion events still have targets
// or stale checkpoints.
func (m *Memory) SuppressionCandidates(ctx context.Context, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{})
	var keys []string
	for _, deletion := range m.events {
		if !deletion.IsDeletion() {
			continue
		}
		if _, ok := seen[deletion.StreamKey]; ok {
			continue
		}
		for _, evt := range m.events {
			if Targets(deletion, evt) || Stale(evt, deletion) {
				seen[deletion.StreamKey] = struct{}{}
				keys = append(keys, deletion.StreamKey)
				break
			}
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

// Suppress removes fact events targeted by the stream's deletion events.
func (m *Memory) Suppress(ctx context.Context, streamKey string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var deletions []event.Event
	for _, evt := range m.events {
		if evt.StreamKey == streamKey && evt.IsDeletion() {
			deletions = append(deletions, evt)
		}
	}
	if len(deletions) == 0 {
		return 0, nil
	}
	return m.removeLocked(func(evt event.Event) bool {
		for _, deletion := range deletions {
			if Targets(deletion, evt) {
				return true
			}
		}
		return false
	}), nil
}

// StaleCheckpoints counts checkpoints written before a deletion in the stream.
func (m *Memory) StaleCheckpoints(ctx context.Context, streamKey string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stale := 0
	for _, evt := range m.events {
		if evt.StreamKey == streamKey && m.staleLocked(evt, ^uint64(0)) {
			stale++
		}
	}
	return stale, nil
}

// DropStaleCheckpoints removes stale checkpoints below the receipt's checkpoint.
func (m *Memory) DropStaleCheckpoints(ctx context.Context, receipt Receipt) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !receipt.Valid() {
		return 0, ErrCompactionSafety
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasCheckpointLocked(receipt) {
		return 0, ErrCompactionSafety
	}
	stale := make(map[uint64]struct{})
	for _, evt := range m.events {
		if evt.StreamKey == receipt.StreamKey() && evt.Seq < receipt.Seq() && m.staleLocked(evt, receipt.Seq()) {
			stale[evt.Seq] = struct{}{}
		}
	}
	return m.removeLocked(func(evt event.Event) bool {
		_, ok := stale[evt.Seq]
		return ok && evt.StreamKey == receipt.StreamKey()
	}), nil
}

// staleLocked reports whether checkpoint precedes a deletion below untilSeq.
func (m *Memory) staleLocked(checkpoint event.Event, untilSeq uint64) bool {
	if !checkpoint.IsCheckpoint() {
		return false
	}
	for _, deletion := range m.events {
		if deletion.Seq < untilSeq && Stale(checkpoint, deletion) {
			return true
		}
	}
	return false
}

// Prune removes events below the receipt's checkpoint that policy allows.
func (m *Memory) Prune(ctx context.Context, receipt Receipt, policy PrunePolicy) (PruneResult, error) {
	if err := ctx.Err(); err != nil {
		return PruneResult{}, err
	}
	if !receipt.Valid() {
		return PruneResult{}, ErrCompactionSafety
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasCheckpointLocked(receipt) {
		return PruneResult{}, ErrCompactionSafety
	}
	pruned := m.removeLocked(func(evt event.Event) bool {
		return evt.StreamKey == receipt.StreamKey() && policy.Prunable(evt, receipt.Seq())
	})
	return PruneResult{CheckpointSeq: receipt.Seq(), Pruned: pruned}, nil
}

func (m *Memory) hasCheckpointLocked(receipt Receipt) bool {
	for _, evt := range m.events {
		if evt.StreamKey == receipt.StreamKey() && evt.Seq == receipt.Seq() {
			return evt.IsCheckpoint() && evt.Position == receipt.Position()
		}
	}
	return false
}

func (m *Memory) latestCheckpointLocked(streamKey string) (event.Event, bool) {
	for i := len(m.events) - 1; i >= 0; i-- {
		evt := m.events[i]
		if evt.StreamKey == streamKey && evt.IsCheckpoint() {
			return evt, true
		}
	}
	return event.Event{}, false
}

func (m *Memory) removeLocked(match func(event.Event) bool) int {
	kept := m.events[:0]
	removed := 0
	for _, evt := range m.events {
		if match(evt) {
			removed++
			continue
		}
		kept = append(kept, evt)
	}
	clear(m.events[len(kept):])
	m.events = kept
	return removed
}

func cloneEvents(events []event.Event) []event.Event {
	if len(events) == 0 {
		return nil
	}
	out := make([]event.Event, len(events))
	for i, evt := range events {
		out[i] = cloneEvent(evt)
	}
	return out
}

func cloneEvent(evt event.Event) event.Event {
	evt.PayloadJSON = append([]byte(nil), evt.PayloadJSON...)
	return evt
}

var (
	_ Store     = (*Memory)(nil)
	_ Compactor = (*Memory)(nil)
)
