package bbolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/storage"
)

var stamp = time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "enrichment.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func enqueue(feedURL string) storage.Mutation {
	return storage.EnqueueTitleLookup{FeedURL: feedURL, RequestedAt: stamp}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for blank path")
	}
}

func TestCommit_EnqueuesOncePerFeed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	applied, err := store.Commit(ctx, "feed_titles", storage.ReadModelFeedTitles, 0, 4, []storage.Mutation{
		enqueue("https://a.example/rss"),
		enqueue("https://b.example/rss"),
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !applied {
		t.Fatal("expected commit to apply")
	}
	if err := store.ResolveTitle(ctx, "https://a.example/rss", "Show A", stamp); err != nil {
		t.Fatalf("resolve title: %v", err)
	}

	// A later subscription to a resolved feed keeps its title.
	if _, err := store.Commit(ctx, "feed_titles", storage.ReadModelFeedTitles, 4, 9, []storage.Mutation{
		enqueue("https://a.example/rss"),
	}); err != nil {
		t.Fatalf("commit again: %v", err)
	}
	record, err := store.GetTitle(ctx, "https://a.example/rss")
	if err != nil {
		t.Fatalf("get title: %v", err)
	}
	if record.Status != storage.TitleResolved || record.Title != "Show A" {
		t.Fatalf("record = %+v, want resolved title kept", record)
	}

	applied, err = store.Commit(ctx, "feed_titles", storage.ReadModelFeedTitles, 4, 9, []storage.Mutation{
		enqueue("https://c.example/rss"),
	})
	if err != nil {
		t.Fatalf("replay commit: %v", err)
	}
	if applied {
		t.Fatal("expected replayed commit to be skipped")
	}
	if _, err := store.GetTitle(ctx, "https://c.example/rss"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, storage.ErrNotFound)
	}

	cursor, err := store.GetCursor(ctx, "feed_titles")
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if cursor.Position != 9 {
		t.Fatalf("position = %d, want 9", cursor.Position)
	}
}

func TestCommit_RejectsOtherReadModels(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Commit(ctx, "subscriptions", storage.ReadModelSubscriptions, 0, 1, nil); err == nil {
		t.Fatal("expected error for foreign read model")
	}
	_, err := store.Commit(ctx, "feed_titles", storage.ReadModelFeedTitles, 0, 1, []storage.Mutation{
		storage.DeleteSubscription{UserID: "u1", FeedURL: "https://a.example/rss"},
	})
	if !errors.Is(err, storage.ErrReadModelNotOwned) {
		t.Fatalf("err = %v, want %v", err, storage.ErrReadModelNotOwned)
	}
}

func TestLookupLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Commit(ctx, "feed_titles", storage.ReadModelFeedTitles, 0, 1, []storage.Mutation{
		enqueue("https://a.example/rss"),
		enqueue("https://b.example/rss"),
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	due, err := store.DueLookups(ctx, stamp, 0)
	if err != nil {
		t.Fatalf("due lookups: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("due = %d, want 2", len(due))
	}

	if err := store.FailLookup(ctx, "https://a.example/rss", errors.New("timeout"), stamp.Add(time.Minute), false); err != nil {
		t.Fatalf("fail lookup: %v", err)
	}
	due, err = store.DueLookups(ctx, stamp.Add(30*time.Second), 0)
	if err != nil {
		t.Fatalf("due lookups: %v", err)
	}
	if len(due) != 1 || due[0].FeedURL != "https://b.example/rss" {
		t.Fatalf("due = %+v, want only feed b before backoff elapses", due)
	}

	if err := store.FailLookup(ctx, "https://a.example/rss", errors.New("gone"), time.Time{}, true); err != nil {
		t.Fatalf("dead-letter lookup: %v", err)
	}
	dead, err := store.ListTitles(ctx, storage.TitleDead)
	if err != nil {
		t.Fatalf("list dead: %v", err)
	}
	if len(dead) != 1 || dead[0].Attempts != 2 || dead[0].LastError != "gone" {
		t.Fatalf("dead = %+v, want feed a after two attempts", dead)
	}

	if err := store.Requeue(ctx, "https://a.example/rss", stamp); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	record, err := store.GetTitle(ctx, "https://a.example/rss")
	if err != nil {
		t.Fatalf("get title: %v", err)
	}
	if record.Status != storage.TitlePending || record.Attempts != 0 {
		t.Fatalf("record = %+v, want pending with attempts reset", record)
	}
}

func TestReset_DropsTitles(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Commit(ctx, "feed_titles", storage.ReadModelFeedTitles, 0, 3, []storage.Mutation{
		enqueue("https://a.example/rss"),
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.Reset(ctx, "feed_titles", storage.ReadModelFeedTitles); err != nil {
		t.Fatalf("reset: %v", err)
	}

	titles, err := store.ListTitles(ctx, "")
	if err != nil {
		t.Fatalf("list titles: %v", err)
	}
	if len(titles) != 0 {
		t.Fatalf("titles = %+v, want none", titles)
	}
	cursors, err := store.ListCursors(ctx)
	if err != nil {
		t.Fatalf("list cursors: %v", err)
	}
	if len(cursors) != 1 || cursors[0].Position != 0 {
		t.Fatalf("cursors = %+v, want feed_titles at 0", cursors)
	}
}

func TestReset_ReplayKeepsResolvedTitles(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	writes := []storage.Mutation{enqueue("https://a.example/rss"), enqueue("https://b.example/rss")}

	if _, err := store.Commit(ctx, "feed_titles", storage.ReadModelFeedTitles, 0, 3, writes); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.ResolveTitle(ctx, "https://a.example/rss", "My Show", stamp); err != nil {
		t.Fatalf("resolve title: %v", err)
	}
	if err := store.FailLookup(ctx, "https://b.example/rss", errors.New("gone"), time.Time{}, true); err != nil {
		t.Fatalf("dead-letter lookup: %v", err)
	}
	before, err := store.ListTitles(ctx, "")
	if err != nil {
		t.Fatalf("list titles: %v", err)
	}

	if err := store.Reset(ctx, "feed_titles", storage.ReadModelFeedTitles); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := store.GetTitle(ctx, "https://a.example/rss"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want %v before replay", err, storage.ErrNotFound)
	}
	if _, err := store.Commit(ctx, "feed_titles", storage.ReadModelFeedTitles, 0, 3, writes); err != nil {
		t.Fatalf("replay commit: %v", err)
	}

	after, err := store.ListTitles(ctx, "")
	if err != nil {
		t.Fatalf("list titles: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("titles after replay = %+v, want %+v", after, before)
	}
	for i := range before {
		if after[i] != before[i] {
			t.Fatalf("title %d after replay = %+v, want %+v", i, after[i], before[i])
		}
	}
	if after[0].Status != storage.TitleResolved || after[0].Title != "My Show" {
		t.Fatalf("feed a = %+v, want resolved My Show", after[0])
	}
}
