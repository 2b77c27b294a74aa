package compaction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/domain/aggregate"
	"github.com/louisbranch/castsync/internal/services/sync/domain/checkpoint"
	"github.com/louisbranch/castsync/internal/services/sync/domain/command"
	"github.com/louisbranch/castsync/internal/services/sync/domain/engine"
	"github.com/louisbranch/castsync/internal/services/sync/domain/episode"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/domain/journal"
	"github.com/louisbranch/castsync/internal/services/sync/domain/replay"
	"github.com/louisbranch/castsync/internal/services/sync/domain/subscription"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func userAggregate() engine.Aggregate {
	return engine.Aggregate{
		Type:       aggregate.AggregateType,
		NewState:   func(id string) any { return aggregate.NewState(id) },
		Decider:    aggregate.Decider{},
		Folder:     &aggregate.Folder{},
		Checkpoint: aggregate.Checkpoint,
	}
}

type fixture struct {
	log    *journal.Memory
	cache  *checkpoint.Memory
	router *engine.Router
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	commands, events, err := aggregate.NewRegistries()
	if err != nil {
		t.Fatalf("registries: %v", err)
	}
	routes, err := engine.NewRouteTable(commands, userAggregate())
	if err != nil {
		t.Fatalf("route table: %v", err)
	}
	f := &fixture{log: journal.NewMemory(events), cache: checkpoint.NewMemory(16), clock: t0}
	f.router = &engine.Router{
		Commands: commands,
		Events:   events,
		Routes:   routes,
		Journal:  f.log,
		Cache:    f.cache,
		Now:      func() time.Time { return f.clock },
	}
	return f
}

func (f *fixture) compactor(cfg Config, log Log) *Compactor {
	if log == nil {
		log = f.log
	}
	return &Compactor{
		Log:        log,
		Aggregates: []engine.Aggregate{userAggregate()},
		Config:     cfg,
		Cache:      f.cache,
		Now:        func() time.Time { return f.clock },
		Logf:       func(string, ...any) {},
	}
}

func (f *fixture) route(t *testing.T, cmdType command.Type, payload any) engine.Ack {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	ack, err := f.router.Route(context.Background(), command.Command{
		AggregateID: "u1",
		Type:        cmdType,
		Causation:   command.Causation{DeviceID: "phone"},
		PayloadJSON: data,
	})
	if err != nil {
		t.Fatalf("route %s: %v", cmdType, err)
	}
	return ack
}

// subscribe routes n subscriptions to distinct feeds numbered from first.
func (f *fixture) subscribe(t *testing.T, first, n int) engine.Ack {
	t.Helper()
	var ack engine.Ack
	for i := first; i < first+n; i++ {
		ack = f.route(t, subscription.CommandTypeSubscribe, subscription.SubscribePayload{FeedURL: fmt.Sprintf("https://feeds.example/%d", i)})
	}
	return ack
}

func (f *fixture) stream(t *testing.T) []event.Event {
	t.Helper()
	events, err := f.log.ReadForward(context.Background(), aggregate.StreamKey("u1"), 0, 0)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	return events
}

func zeroWindows() Config {
	return Config{BatchSize: 10}
}

// sameState compares two user states by their encoded form.
func sameState(t *testing.T, got, want any) bool {
	t.Helper()
	gotState, err := aggregate.AssertState(got)
	if err != nil {
		t.Fatalf("assert got: %v", err)
	}
	wantState, err := aggregate.AssertState(want)
	if err != nil {
		t.Fatalf("assert want: %v", err)
	}
	gotJSON, err := json.Marshal(gotState)
	if err != nil {
		t.Fatalf("marshal got: %v", err)
	}
	wantJSON, err := json.Marshal(wantState)
	if err != nil {
		t.Fatalf("marshal want: %v", err)
	}
	return bytes.Equal(gotJSON, wantJSON)
}

func TestRunOnceWithZeroRetentionLeavesOnlyCheckpoint(t *testing.T) {
	f := newFixture(t)
	ack := f.subscribe(t, 0, 5)
	f.clock = t0.Add(time.Second)

	report, err := f.compactor(zeroWindows(), nil).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(report.Streams) != 1 {
		t.Fatalf("streams = %+v, want one", report.Streams)
	}
	stream := report.Streams[0]
	if !stream.CheckpointAppended || stream.CheckpointSeq != 6 || stream.Pruned != 5 {
		t.Fatalf("report = %+v, want checkpoint 6 pruning 5", stream)
	}

	events := f.stream(t)
	if len(events) != 1 || events[0].Type != aggregate.EventTypeCheckpoint {
		t.Fatalf("stream = %+v, want one checkpoint", events)
	}
	restored, err := aggregate.RestoreCheckpoint(events[0])
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !sameState(t, restored, ack.State) {
		t.Fatalf("checkpoint state = %+v, want %+v", restored, ack.State)
	}
}

func TestCheckpointEquivalentToFullReplay(t *testing.T) {
	f := newFixture(t)
	for i := range 100 {
		f.route(t, episode.CommandTypeRecord, episode.RecordPayload{
			EpisodeURL: fmt.Sprintf("https://feeds.example/a/%d.mp3", i%7),
			FeedURL:    "https://feeds.example/a",
			Action:     episode.ActionPlay,
			Position:   int64(i),
			Total:      1000,
		})
	}
	key := aggregate.StreamKey("u1")
	direct, err := replay.Replay(context.Background(), f.log, &aggregate.Folder{}, key, aggregate.NewState("u1"), replay.Options{})
	if err != nil {
		t.Fatalf("direct replay: %v", err)
	}
	if direct.LastSeq != 100 {
		t.Fatalf("last seq = %d, want 100", direct.LastSeq)
	}

	cfg := DefaultConfig()
	stream, err := f.compactor(cfg, nil).CompactStream(context.Background(), key)
	if err != nil {
		t.Fatalf("compact stream: %v", err)
	}
	if !stream.CheckpointAppended || stream.Pruned != 0 {
		t.Fatalf("report = %+v, want checkpoint without prune inside the safety window", stream)
	}

	rebuilt, err := replay.Rebuild(context.Background(), f.log, &aggregate.Folder{}, key, func() any { return aggregate.NewState("u1") })
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if rebuilt.CheckpointSeq != 101 {
		t.Fatalf("checkpoint seq = %d, want 101", rebuilt.CheckpointSeq)
	}
	if !sameState(t, rebuilt.State, direct.State) {
		t.Fatalf("checkpoint state = %+v, want %+v", rebuilt.State, direct.State)
	}
}

// faultLog fails checkpoint appends and counts prunes.
type faultLog struct {
	*journal.Memory
	appendErr error
	prunes    int
}

func (l *faultLog) Append(ctx context.Context, streamKey string, expectedVersion uint64, events []event.Event) ([]event.Event, error) {
	if l.appendErr != nil {
		return nil, l.appendErr
	}
	return l.Memory.Append(ctx, streamKey, expectedVersion, events)
}

func (l *faultLog) Prune(ctx context.Context, receipt journal.Receipt, policy journal.PrunePolicy) (journal.PruneResult, error) {
	l.prunes++
	return l.Memory.Prune(ctx, receipt, policy)
}

func TestFailedCheckpointAppendNeverPrunes(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 0, 5)
	f.clock = t0.Add(time.Second)
	log := &faultLog{Memory: f.log, appendErr: fmt.Errorf("disk: %w", journal.ErrUnavailable)}

	report, err := f.compactor(zeroWindows(), log).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(report.Streams) != 1 || !errors.Is(report.Streams[0].Err, journal.ErrUnavailable) {
		t.Fatalf("report = %+v, want unavailable stream error", report.Streams)
	}
	if log.prunes != 0 {
		t.Fatalf("prunes = %d, want 0", log.prunes)
	}
	if events := f.stream(t); len(events) != 5 {
		t.Fatalf("stream length = %d, want all 5 events", len(events))
	}

	if _, err := f.compactor(zeroWindows(), log).CompactStream(context.Background(), aggregate.StreamKey("u1")); !errors.Is(err, journal.ErrUnavailable) {
		t.Fatalf("compact stream err = %v, want unavailable", err)
	}
	if log.prunes != 0 {
		t.Fatalf("prunes = %d, want 0 after manual trigger", log.prunes)
	}
}

func TestConflictingCheckpointSkipsStream(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 0, 2)
	f.clock = t0.Add(time.Second)
	log := &faultLog{Memory: f.log, appendErr: &journal.ConflictError{StreamKey: aggregate.StreamKey("u1"), Expected: 2, Actual: 3}}

	stream, err := f.compactor(zeroWindows(), log).CompactStream(context.Background(), aggregate.StreamKey("u1"))
	if err != nil {
		t.Fatalf("compact stream: %v", err)
	}
	if stream.Skipped == "" || stream.CheckpointAppended || log.prunes != 0 {
		t.Fatalf("report = %+v prunes = %d, want skipped without prune", stream, log.prunes)
	}
}

func TestErasureSuppressesTargetsImmediately(t *testing.T) {
	f := newFixture(t)
	f.route(t, episode.CommandTypeRecord, episode.RecordPayload{EpisodeURL: "https://feeds.example/a/1.mp3", FeedURL: "https://feeds.example/a", Action: episode.ActionDownload})
	f.route(t, episode.CommandTypeRecord, episode.RecordPayload{EpisodeURL: "https://feeds.example/b/1.mp3", FeedURL: "https://feeds.example/b", Action: episode.ActionDownload})
	ack := f.route(t, episode.CommandTypeEraseHistory, episode.EraseHistoryPayload{FeedURL: "https://feeds.example/a"})

	report, err := f.compactor(DefaultConfig(), nil).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(report.Streams) != 1 || report.Streams[0].Suppressed != 1 || report.Streams[0].CheckpointAppended {
		t.Fatalf("report = %+v, want one suppression and no checkpoint", report.Streams)
	}
	events := f.stream(t)
	if len(events) != 2 || events[0].Seq != 2 || events[1].Type != episode.EventTypeHistoryErased {
		t.Fatalf("stream = %+v, want feed b record and the erasure", events)
	}

	rebuilt, err := replay.Rebuild(context.Background(), f.log, &aggregate.Folder{}, aggregate.StreamKey("u1"), func() any { return aggregate.NewState("u1") })
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if !sameState(t, rebuilt.State, ack.State) {
		t.Fatalf("state after suppression = %+v, want %+v", rebuilt.State, ack.State)
	}
}

func (f *fixture) erasableHistory(t *testing.T) {
	t.Helper()
	f.route(t, episode.CommandTypeRecord, episode.RecordPayload{EpisodeURL: "https://feeds.example/a/secret.mp3", FeedURL: "https://feeds.example/a", Action: episode.ActionDownload})
	f.route(t, episode.CommandTypeRecord, episode.RecordPayload{EpisodeURL: "https://feeds.example/b/1.mp3", FeedURL: "https://feeds.example/b", Action: episode.ActionDownload})
	stream, err := f.compactor(DefaultConfig(), nil).CompactStream(context.Background(), aggregate.StreamKey("u1"))
	if err != nil {
		t.Fatalf("compact stream: %v", err)
	}
	if !stream.CheckpointAppended || stream.CheckpointSeq != 3 {
		t.Fatalf("report = %+v, want checkpoint 3", stream)
	}
}

func TestErasureReplacesOlderCheckpoint(t *testing.T) {
	f := newFixture(t)
	f.erasableHistory(t)
	ack := f.route(t, episode.CommandTypeEraseHistory, episode.EraseHistoryPayload{FeedURL: "https://feeds.example/a"})

	report, err := f.compactor(DefaultConfig(), nil).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(report.Streams) != 1 {
		t.Fatalf("streams = %+v, want one", report.Streams)
	}
	got := report.Streams[0]
	if got.Err != nil || got.Suppressed != 1 || !got.CheckpointAppended || got.CheckpointSeq != 5 || got.Redacted != 1 || got.StaleCheckpoints != 0 {
		t.Fatalf("report = %+v, want suppression and checkpoint 5 replacing checkpoint 3", got)
	}

	events := f.stream(t)
	for _, evt := range events {
		if bytes.Contains(evt.PayloadJSON, []byte("secret.mp3")) {
			t.Fatalf("erased history still readable in seq %d (%s)", evt.Seq, evt.Type)
		}
	}
	if len(events) != 3 || events[2].Seq != 5 || events[2].Type != aggregate.EventTypeCheckpoint {
		t.Fatalf("stream = %+v, want feed b record, erasure, and the new checkpoint", events)
	}
	all, err := f.log.ReadAllForward(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(all) != len(events) {
		t.Fatalf("global log = %d events, want %d", len(all), len(events))
	}

	rebuilt, err := replay.Rebuild(context.Background(), f.log, &aggregate.Folder{}, aggregate.StreamKey("u1"), func() any { return aggregate.NewState("u1") })
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if !sameState(t, rebuilt.State, ack.State) {
		t.Fatalf("state after erasure = %+v, want %+v", rebuilt.State, ack.State)
	}

	report, err = f.compactor(DefaultConfig(), nil).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("repeat run: %v", err)
	}
	if len(report.Streams) != 0 {
		t.Fatalf("repeat report = %+v, want nothing left to erase", report.Streams)
	}
}

func TestErasureReportsCheckpointItCouldNotReplace(t *testing.T) {
	f := newFixture(t)
	f.erasableHistory(t)
	f.route(t, episode.CommandTypeEraseHistory, episode.EraseHistoryPayload{FeedURL: "https://feeds.example/a"})
	log := &faultLog{Memory: f.log, appendErr: &journal.ConflictError{StreamKey: aggregate.StreamKey("u1"), Expected: 4, Actual: 5}}

	report, err := f.compactor(DefaultConfig(), log).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(report.Streams) != 1 {
		t.Fatalf("streams = %+v, want one", report.Streams)
	}
	got := report.Streams[0]
	if got.Suppressed != 1 || got.Skipped == "" || got.Redacted != 0 || got.StaleCheckpoints != 1 {
		t.Fatalf("report = %+v, want the older checkpoint reported as stale", got)
	}

	candidates, err := f.log.SuppressionCandidates(context.Background(), 10)
	if err != nil {
		t.Fatalf("suppression candidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0] != aggregate.StreamKey("u1") {
		t.Fatalf("candidates = %v, want the stream retried", candidates)
	}
}

func TestDeletionEventKeptUntilItsExpiry(t *testing.T) {
	f := newFixture(t)
	f.route(t, episode.CommandTypeRecord, episode.RecordPayload{EpisodeURL: "https://feeds.example/a/1.mp3", FeedURL: "https://feeds.example/a", Action: episode.ActionDownload})
	f.route(t, episode.CommandTypeRecord, episode.RecordPayload{EpisodeURL: "https://feeds.example/b/1.mp3", FeedURL: "https://feeds.example/b", Action: episode.ActionDownload})
	f.route(t, episode.CommandTypeEraseHistory, episode.EraseHistoryPayload{FeedURL: "https://feeds.example/a"})

	cfg := Config{DeletionRetention: 30 * 24 * time.Hour, BatchSize: 10}

	// Exactly at the expiry boundary the deletion event is still kept.
	f.clock = t0.Add(cfg.DeletionRetention)
	report, err := f.compactor(cfg, nil).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := report.Streams[0]; got.Suppressed != 1 || !got.CheckpointAppended || got.Pruned != 1 {
		t.Fatalf("report = %+v, want suppression, checkpoint, and one prune", got)
	}
	events := f.stream(t)
	if len(events) != 2 || events[0].Type != episode.EventTypeHistoryErased || events[1].Type != aggregate.EventTypeCheckpoint {
		t.Fatalf("stream = %+v, want erasure and checkpoint", events)
	}

	f.clock = f.clock.Add(time.Millisecond)
	report, err = f.compactor(cfg, nil).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := report.Streams[0]; got.CheckpointAppended || got.Pruned != 1 {
		t.Fatalf("report = %+v, want the expired erasure pruned against the existing checkpoint", got)
	}
	if events := f.stream(t); len(events) != 1 || events[0].Type != aggregate.EventTypeCheckpoint {
		t.Fatalf("stream = %+v, want only the checkpoint", events)
	}
}

func TestRecentHistoryIsNotCompacted(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 0, 3)
	f.clock = t0.Add(44 * 24 * time.Hour)

	report, err := f.compactor(DefaultConfig(), nil).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(report.Streams) != 0 {
		t.Fatalf("report = %+v, want nothing inside retention", report.Streams)
	}

	f.clock = t0.Add(46 * 24 * time.Hour)
	report, err = f.compactor(DefaultConfig(), nil).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(report.Streams) != 1 || !report.Streams[0].CheckpointAppended || report.Streams[0].Pruned != 3 {
		t.Fatalf("report = %+v, want checkpoint pruning 3", report.Streams)
	}

	report, err = f.compactor(DefaultConfig(), nil).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("repeat run: %v", err)
	}
	if len(report.Streams) != 0 {
		t.Fatalf("repeat report = %+v, want nothing left to compact", report.Streams)
	}
}

func TestSafetyWindowKeepsCoveredEvents(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 0, 2)
	f.clock = t0.Add(10 * 24 * time.Hour)
	f.subscribe(t, 2, 3)
	f.clock = t0.Add(46 * 24 * time.Hour)

	report, err := f.compactor(DefaultConfig(), nil).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := report.Streams[0]; got.Pruned != 2 {
		t.Fatalf("pruned = %d, want the 2 events outside the safety window", got.Pruned)
	}
	if events := f.stream(t); len(events) != 4 {
		t.Fatalf("stream length = %d, want the 3 recent events and the checkpoint", len(events))
	}
}

func TestRouterRecoversAfterCompaction(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 0, 3)
	f.clock = t0.Add(time.Second)
	if _, err := f.compactor(zeroWindows(), nil).RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	ack := f.route(t, subscription.CommandTypeSubscribe, subscription.SubscribePayload{FeedURL: "https://feeds.example/new"})
	if ack.Version != 5 {
		t.Fatalf("version = %d, want 5 after the checkpoint", ack.Version)
	}
	state, err := aggregate.AssertState(ack.State)
	if err != nil {
		t.Fatalf("assert state: %v", err)
	}
	if len(state.Subscriptions) != 4 {
		t.Fatalf("subscriptions = %d, want 4", len(state.Subscriptions))
	}
}

func TestCompactStreamValidation(t *testing.T) {
	f := newFixture(t)
	c := f.compactor(zeroWindows(), nil)
	if _, err := c.CompactStream(context.Background(), "  "); !errors.Is(err, journal.ErrStreamKeyRequired) {
		t.Fatalf("err = %v, want stream key required", err)
	}
	if _, err := c.CompactStream(context.Background(), "group-1"); !errors.Is(err, ErrUnknownAggregate) {
		t.Fatalf("err = %v, want unknown aggregate", err)
	}
	stream, err := c.CompactStream(context.Background(), aggregate.StreamKey("nobody"))
	if err != nil || stream.Skipped == "" {
		t.Fatalf("stream = %+v err = %v, want empty stream skipped", stream, err)
	}

	var missing *Compactor
	if _, err := missing.RunOnce(context.Background()); !errors.Is(err, ErrLogRequired) {
		t.Fatalf("err = %v, want log required", err)
	}
	negative := f.compactor(Config{SafetyWindow: -time.Hour}, nil)
	if _, err := negative.RunOnce(context.Background()); err == nil {
		t.Fatal("expected negative window error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 0, 1)
	f.clock = t0.Add(time.Second)
	cfg := zeroWindows()
	cfg.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := f.compactor(cfg, nil).Run(ctx); err != nil {
		t.Fatalf("run = %v, want nil", err)
	}
	if events := f.stream(t); len(events) != 1 || events[0].Type != aggregate.EventTypeCheckpoint {
		t.Fatalf("stream = %+v, want compacted to a checkpoint", events)
	}
}

func TestReportTotals(t *testing.T) {
	report := Report{
		StartedAt:  t0,
		FinishedAt: t0.Add(time.Second),
		Streams: []StreamReport{
			{StreamKey: "user-a", CheckpointAppended: true, Pruned: 4},
			{StreamKey: "user-b", Suppressed: 2, Err: errors.New("boom")},
		},
	}
	checkpoints, suppressed, pruned, failed := report.Totals()
	if checkpoints != 1 || suppressed != 2 || pruned != 4 || failed != 1 {
		t.Fatalf("totals = %d %d %d %d, want 1 2 4 1", checkpoints, suppressed, pruned, failed)
	}
	if got, want := report.String(), "compaction: 2 streams, 1 checkpoints, 2 suppressed, 4 pruned, 1 failed in 1s"; got != want {
		t.Fatalf("string = %q, want %q", got, want)
	}
}
