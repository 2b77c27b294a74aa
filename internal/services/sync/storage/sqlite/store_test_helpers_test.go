package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
)

const (
	typeNoted      event.Type = "test.noted"
	typeErased     event.Type = "test.erased"
	typeCheckpoint event.Type = "test.checkpoint"
)

var stamp = time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC)

func testRegistry(t *testing.T) *event.Registry {
	t.Helper()
	registry := event.NewRegistry()
	for _, def := range []event.Definition{
		{Type: typeNoted},
		{Type: typeErased, Kind: event.KindDeletion},
		{Type: typeCheckpoint, Kind: event.KindCheckpoint},
	} {
		if err := registry.Register(def); err != nil {
			t.Fatalf("register %s: %v", def.Type, err)
		}
	}
	return registry
}

func openTestEventStore(t *testing.T) *EventStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	store, err := OpenEvents(context.Background(), path, testRegistry(t))
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close event store: %v", err)
		}
	})
	return store
}

func openTestProjectionStore(t *testing.T) *ProjectionStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "projections.db")
	store, err := OpenProjections(context.Background(), path)
	if err != nil {
		t.Fatalf("open projection store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close projection store: %v", err)
		}
	})
	return store
}

func noted(entityID string, at time.Time) event.Event {
	return event.Event{Type: typeNoted, EntityType: "note", EntityID: entityID, Timestamp: at, PayloadJSON: []byte(`{"n":1}`)}
}

func erased(entityID string, at time.Time) event.Event {
	return event.Event{Type: typeErased, EntityType: "note", EntityID: entityID, Timestamp: at, PayloadJSON: []byte(`{}`)}
}

func checkpointAt(at time.Time) event.Event {
	return event.Event{Type: typeCheckpoint, Timestamp: at, PayloadJSON: []byte(`{"version":1}`)}
}

func seqs(events []event.Event) []uint64 {
	out := make([]uint64, len(events))
	for i, evt := range events {
		out[i] = evt.Seq
	}
	return out
}

func equalSeqs(got []uint64, want ...uint64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
