package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/domain/journal"
)

func TestOpenEventsRequiresPathAndRegistry(t *testing.T) {
	ctx := context.Background()
	if _, err := OpenEvents(ctx, " ", testRegistry(t)); err == nil {
		t.Fatal("expected error for blank path")
	}
	if _, err := OpenEvents(ctx, filepath.Join(t.TempDir(), "events.db"), nil); err == nil {
		t.Fatal("expected error for missing registry")
	}
}

func TestAppend_AssignsSeqAndPosition(t *testing.T) {
	store := openTestEventStore(t)
	ctx := context.Background()

	first, err := store.Append(ctx, "user-1", 0, []event.Event{noted("a", stamp), noted("b", stamp.Add(1500*time.Microsecond))})
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	if !equalSeqs(seqs(first), 1, 2) {
		t.Fatalf("seqs = %v, want [1 2]", seqs(first))
	}
	if first[0].Position != 1 || first[1].Position != 2 {
		t.Fatalf("positions = %d,%d, want 1,2", first[0].Position, first[1].Position)
	}
	if first[0].ID == "" || first[0].Kind != event.KindFact {
		t.Fatalf("first = %+v, want id and fact kind", first[0])
	}
	if !first[1].Timestamp.Equal(stamp.Add(time.Millisecond)) {
		t.Fatalf("timestamp = %v, want truncated to millisecond", first[1].Timestamp)
	}

	other, err := store.Append(ctx, "user-2", 0, []event.Event{noted("c", stamp)})
	if err != nil {
		t.Fatalf("append other: %v", err)
	}
	if other[0].Seq != 1 || other[0].Position != 3 {
		t.Fatalf("other = seq %d position %d, want seq 1 position 3", other[0].Seq, other[0].Position)
	}

	read, err := store.ReadForward(ctx, "user-1", 0, 0)
	if err != nil {
		t.Fatalf("read forward: %v", err)
	}
	if len(read) != 2 || read[0].ID != first[0].ID || string(read[0].PayloadJSON) != `{"n":1}` {
		t.Fatalf("read = %+v, want stored events", read)
	}
	if !read[1].Timestamp.Equal(first[1].Timestamp) {
		t.Fatalf("read timestamp = %v, want %v", read[1].Timestamp, first[1].Timestamp)
	}

	version, err := store.Version(ctx, "user-1")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != 2 {
		t.Fatalf("version = %d, want 2", version)
	}
}

func TestAppend_ConflictWritesNothing(t *testing.T) {
	store := openTestEventStore(t)
	ctx := context.Background()

	if _, err := store.Append(ctx, "user-1", 0, []event.Event{noted("a", stamp)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	_, err := store.Append(ctx, "user-1", 0, []event.Event{noted("b", stamp), noted("c", stamp)})
	var conflict *journal.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if conflict.Expected != 0 || conflict.Actual != 1 {
		t.Fatalf("conflict = %+v, want expected 0 actual 1", conflict)
	}

	_, err = store.Append(ctx, "user-new", 3, []event.Event{noted("d", stamp)})
	if !errors.Is(err, journal.ErrConflict) {
		t.Fatalf("err = %v, want %v for new stream", err, journal.ErrConflict)
	}

	all, err := store.ReadAllForward(ctx, 0, 0)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("events = %d, want 1", len(all))
	}
	version, err := store.Version(ctx, "user-new")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != 0 {
		t.Fatalf("version = %d, want 0", version)
	}
}

func TestAppend_RejectsUnregisteredType(t *testing.T) {
	store := openTestEventStore(t)
	_, err := store.Append(context.Background(), "user-1", 0, []event.Event{{Type: "test.unknown", Timestamp: stamp}})
	if !errors.Is(err, event.ErrTypeUnknown) {
		t.Fatalf("err = %v, want %v", err, event.ErrTypeUnknown)
	}
}

func TestAppend_RacingWritersExactlyOneWins(t *testing.T) {
	store := openTestEventStore(t)
	ctx := context.Background()

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.Append(ctx, "user-race", 0, []event.Event{noted("x", stamp)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, journal.ErrConflict):
				conflicts++
			default:
				t.Errorf("append: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 || conflicts != writers-1 {
		t.Fatalf("wins = %d conflicts = %d, want 1 and %d", wins, conflicts, writers-1)
	}
	events, err := store.ReadForward(ctx, "user-race", 0, 0)
	if err != nil {
		t.Fatalf("read forward: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
}

func TestReadForwardAndReadAllForwardHonorLimits(t *testing.T) {
	store := openTestEventStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, "user-1", uint64(i), []event.Event{noted("a", stamp)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if _, err := store.Append(ctx, "user-2", uint64(i), []event.Event{noted("b", stamp)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	page, err := store.ReadForward(ctx, "user-1", 1, 1)
	if err != nil {
		t.Fatalf("read forward: %v", err)
	}
	if !equalSeqs(seqs(page), 2) {
		t.Fatalf("page = %v, want [2]", seqs(page))
	}

	global, err := store.ReadAllForward(ctx, 2, 3)
	if err != nil {
		t.Fatalf("read all forward: %v", err)
	}
	if len(global) != 3 || global[0].Position != 3 || global[2].Position != 5 {
		t.Fatalf("global = %d events starting %d, want positions 3..5", len(global), global[0].Position)
	}

	streams, err := store.ListStreams(ctx, "", 0)
	if err != nil {
		t.Fatalf("list streams: %v", err)
	}
	if len(streams) != 2 || streams[0] != "user-1" || streams[1] != "user-2" {
		t.Fatalf("streams = %v, want [user-1 user-2]", streams)
	}
}

func TestLatestCheckpoint(t *testing.T) {
	store := openTestEventStore(t)
	ctx := context.Background()

	if _, err := store.LatestCheckpoint(ctx, "user-1"); !errors.Is(err, journal.ErrCheckpointNotFound) {
		t.Fatalf("err = %v, want %v", err, journal.ErrCheckpointNotFound)
	}
	if _, err := store.Append(ctx, "user-1", 0, []event.Event{noted("a", stamp), checkpointAt(stamp), noted("b", stamp), checkpointAt(stamp)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	latest, err := store.LatestCheckpoint(ctx, "user-1")
	if err != nil {
		t.Fatalf("latest checkpoint: %v", err)
	}
	if latest.Seq != 4 || !latest.IsCheckpoint() {
		t.Fatalf("latest = seq %d kind %s, want checkpoint at 4", latest.Seq, latest.Kind)
	}
}

func TestEventsRejectInPlaceUpdates(t *testing.T) {
	store := openTestEventStore(t)
	ctx := context.Background()

	if _, err := store.Append(ctx, "user-1", 0, []event.Event{noted("a", stamp)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := store.sqlDB.ExecContext(ctx, `UPDATE events SET payload_json = '{}' WHERE stream_key = 'user-1'`); err == nil {
		t.Fatal("expected update of a stored event to fail")
	}
	read, err := store.ReadForward(ctx, "user-1", 0, 0)
	if err != nil {
		t.Fatalf("read forward: %v", err)
	}
	if len(read) != 1 || string(read[0].PayloadJSON) != `{"n":1}` {
		t.Fatalf("read = %+v, want original payload", read)
	}
}
