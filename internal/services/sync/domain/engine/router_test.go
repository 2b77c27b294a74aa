package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/domain/aggregate"
	"github.com/louisbranch/castsync/internal/services/sync/domain/checkpoint"
	"github.com/louisbranch/castsync/internal/services/sync/domain/command"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/domain/journal"
	"github.com/louisbranch/castsync/internal/services/sync/domain/subscription"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func userAggregate() Aggregate {
	return Aggregate{
		Type:       aggregate.AggregateType,
		NewState:   func(id string) any { return aggregate.NewState(id) },
		Decider:    aggregate.Decider{},
		Folder:     &aggregate.Folder{},
		Checkpoint: aggregate.Checkpoint,
	}
}

func newRouter(t *testing.T, store journal.Store) *Router {
	t.Helper()
	commands, events, err := aggregate.NewRegistries()
	if err != nil {
		t.Fatalf("registries: %v", err)
	}
	routes, err := NewRouteTable(commands, userAggregate())
	if err != nil {
		t.Fatalf("route table: %v", err)
	}
	return &Router{
		Commands: commands,
		Events:   events,
		Routes:   routes,
		Journal:  store,
		Cache:    checkpoint.NewMemory(16),
		Now:      func() time.Time { return fixedNow },
	}
}

func newMemoryJournal(t *testing.T) *journal.Memory {
	t.Helper()
	_, events, err := aggregate.NewRegistries()
	if err != nil {
		t.Fatalf("registries: %v", err)
	}
	return journal.NewMemory(events)
}

func subscribe(userID, feedURL string) command.Command {
	return command.Command{
		AggregateID: userID,
		Type:        subscription.CommandTypeSubscribe,
		Causation:   command.Causation{DeviceID: "phone"},
		PayloadJSON: []byte(`{"feed_url":"` + feedURL + `"}`),
	}
}

func userState(t *testing.T, state any) aggregate.State {
	t.Helper()
	current, err := aggregate.AssertState(state)
	if err != nil {
		t.Fatalf("assert state: %v", err)
	}
	return current
}

// hookJournal runs a hook before delegating appends.
type hookJournal struct {
	journal.Store
	mu          sync.Mutex
	appends     int
	beforeApply func(ctx context.Context, call int) error
}

func (h *hookJournal) Append(ctx context.Context, streamKey string, expected uint64, events []event.Event) ([]event.Event, error) {
	h.mu.Lock()
	h.appends++
	call := h.appends
	h.mu.Unlock()
	if h.beforeApply != nil {
		if err := h.beforeApply(ctx, call); err != nil {
			return nil, err
		}
	}
	return h.Store.Append(ctx, streamKey, expected, events)
}

func TestRoute_AppendsAndFolds(t *testing.T) {
	store := newMemoryJournal(t)
	router := newRouter(t, store)

	ack, err := router.Route(context.Background(), subscribe("u1", "https://feeds.example/a"))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if ack.StreamKey != "user-u1" || ack.Version != 1 || len(ack.Events) != 1 || ack.Attempts != 1 {
		t.Fatalf("ack = %+v, want user-u1 at version 1 with one event", ack)
	}
	if ack.Events[0].Position == 0 || ack.Events[0].ID == "" {
		t.Fatalf("event = %+v, want log-assigned position and id", ack.Events[0])
	}
	state := userState(t, ack.State)
	if _, ok := state.Subscriptions["https://feeds.example/a"]; !ok {
		t.Fatalf("subscriptions = %v, want feed a", state.Subscriptions)
	}
}

func TestRoute_RejectionAppendsNothing(t *testing.T) {
	store := newMemoryJournal(t)
	router := newRouter(t, store)
	ctx := context.Background()

	if _, err := router.Route(ctx, subscribe("u1", "https://feeds.example/a")); err != nil {
		t.Fatalf("route: %v", err)
	}
	_, err := router.Route(ctx, subscribe("u1", "https://feeds.example/a"))
	var rejection *RejectionError
	if !errors.As(err, &rejection) || !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want RejectionError", err)
	}
	if rejection.Code() != subscription.RejectionCodeAlreadySubscribed {
		t.Fatalf("code = %s, want %s", rejection.Code(), subscription.RejectionCodeAlreadySubscribed)
	}
	version, _ := store.Version(ctx, "user-u1")
	if version != 1 {
		t.Fatalf("version = %d, want 1", version)
	}
}

func TestRoute_NoOpAcksCurrentVersion(t *testing.T) {
	store := newMemoryJournal(t)
	router := newRouter(t, store)
	ctx := context.Background()
	if _, err := router.Route(ctx, subscribe("u1", "https://feeds.example/a")); err != nil {
		t.Fatalf("route: %v", err)
	}
	resync := command.Command{
		AggregateID: "u1",
		Type:        subscription.CommandTypeSync,
		Causation:   command.Causation{DeviceID: "phone"},
		PayloadJSON: []byte(`{"add":["https://feeds.example/a"]}`),
	}
	ack, err := router.Route(ctx, resync)
	if err != nil {
		t.Fatalf("route sync: %v", err)
	}
	if ack.Version != 1 || len(ack.Events) != 0 {
		t.Fatalf("ack = %+v, want no-op at version 1", ack)
	}
}

func TestRoute_InvalidEnvelope(t *testing.T) {
	router := newRouter(t, newMemoryJournal(t))
	ctx := context.Background()
	if _, err := router.Route(ctx, command.Command{Type: subscription.CommandTypeSubscribe}); !errors.Is(err, command.ErrAggregateIDRequired) {
		t.Fatalf("err = %v, want ErrAggregateIDRequired", err)
	}
	if _, err := router.Route(ctx, command.Command{AggregateID: "u1", Type: "user.rename"}); !errors.Is(err, command.ErrTypeUnknown) {
		t.Fatalf("err = %v, want ErrTypeUnknown", err)
	}
}

func TestRoute_RetriesAfterConflict(t *testing.T) {
	store := newMemoryJournal(t)
	hooked := &hookJournal{Store: store}
	router := newRouter(t, hooked)
	ctx := context.Background()

	hooked.beforeApply = func(ctx context.Context, call int) error {
		if call != 1 {
			return nil
		}
		// Another process subscribes to feed b between our load and append.
		other := newRouter(t, store)
		_, err := other.Route(ctx, subscribe("u1", "https://feeds.example/b"))
		return err
	}

	ack, err := router.Route(ctx, subscribe("u1", "https://feeds.example/a"))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if ack.Attempts != 2 || ack.Version != 2 {
		t.Fatalf("ack = %+v, want success on attempt 2 at version 2", ack)
	}
	state := userState(t, ack.State)
	if len(state.Subscriptions) != 2 {
		t.Fatalf("subscriptions = %d, want 2", len(state.Subscriptions))
	}
}

func TestRoute_SurfacesConflictAfterBoundedRetries(t *testing.T) {
	hooked := &hookJournal{Store: newMemoryJournal(t)}
	hooked.beforeApply = func(context.Context, int) error {
		return &journal.ConflictError{StreamKey: "user-u1", Expected: 0, Actual: 9}
	}
	router := newRouter(t, hooked)

	_, err := router.Route(context.Background(), subscribe("u1", "https://feeds.example/a"))
	if !errors.Is(err, journal.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if hooked.appends != DefaultMaxRetries+1 {
		t.Fatalf("appends = %d, want %d", hooked.appends, DefaultMaxRetries+1)
	}
}

func TestRoute_SurfacesLogUnavailable(t *testing.T) {
	hooked := &hookJournal{Store: newMemoryJournal(t)}
	hooked.beforeApply = func(context.Context, int) error { return journal.ErrUnavailable }
	router := newRouter(t, hooked)

	_, err := router.Route(context.Background(), subscribe("u1", "https://feeds.example/a"))
	if !errors.Is(err, journal.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if hooked.appends != 1 {
		t.Fatalf("appends = %d, want 1", hooked.appends)
	}
}

func TestRoute_CancelledBeforeAppendWritesNothing(t *testing.T) {
	store := newMemoryJournal(t)
	router := newRouter(t, store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := router.Route(ctx, subscribe("u1", "https://feeds.example/a")); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	version, _ := store.Version(context.Background(), "user-u1")
	if version != 0 {
		t.Fatalf("version = %d, want 0", version)
	}
}

func TestRoute_AppendRunsToCompletionOnceStarted(t *testing.T) {
	store := newMemoryJournal(t)
	hooked := &hookJournal{Store: store}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hooked.beforeApply = func(appendCtx context.Context, _ int) error {
		cancel()
		return appendCtx.Err()
	}
	router := newRouter(t, hooked)

	ack, err := router.Route(ctx, subscribe("u1", "https://feeds.example/a"))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if ack.Version != 1 {
		t.Fatalf("version = %d, want 1", ack.Version)
	}
}

func TestRoute_SerializesCommandsPerStream(t *testing.T) {
	store := newMemoryJournal(t)
	router := newRouter(t, store)
	ctx := context.Background()

	const perUser = 20
	var wg sync.WaitGroup
	errs := make(chan error, perUser*2)
	for _, user := range []string{"u1", "u2"} {
		for i := 0; i < perUser; i++ {
			wg.Add(1)
			go func(user string, i int) {
				defer wg.Done()
				ack, err := router.Route(ctx, subscribe(user, fmt.Sprintf("https://feeds.example/%d", i)))
				if err == nil && ack.Attempts != 1 {
					err = fmt.Errorf("attempts = %d, want 1", ack.Attempts)
				}
				errs <- err
			}(user, i)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("route: %v", err)
		}
	}
	for _, key := range []string{"user-u1", "user-u2"} {
		version, _ := store.Version(ctx, key)
		if version != perUser {
			t.Fatalf("%s version = %d, want %d", key, version, perUser)
		}
	}
}

func TestRoute_ConcurrentDeviceSyncsAcrossProcessesConverge(t *testing.T) {
	store := newMemoryJournal(t)
	ctx := context.Background()
	phone := newRouter(t, store)
	laptop := newRouter(t, store)

	syncCmd := func(device, feed string) command.Command {
		payload, _ := json.Marshal(subscription.SyncPayload{Add: []string{feed}})
		return command.Command{
			AggregateID: "u1",
			Type:        subscription.CommandTypeSync,
			Causation:   command.Causation{DeviceID: device},
			PayloadJSON: payload,
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); _, err := phone.Route(ctx, syncCmd("phone", "https://feeds.example/a")); errs <- err }()
	go func() { defer wg.Done(); _, err := laptop.Route(ctx, syncCmd("laptop", "https://feeds.example/b")); errs <- err }()
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("sync: %v", err)
		}
	}

	loaded, err := StateLoader{Journal: store}.Load(ctx, userAggregate(), "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	state := userState(t, loaded.State)
	if len(state.Subscriptions) != 2 || loaded.Version != 2 {
		t.Fatalf("subscriptions = %d version = %d, want 2 and 2", len(state.Subscriptions), loaded.Version)
	}
}

func TestStateLoader_CacheSurvivesPruneBelowCheckpoint(t *testing.T) {
	store := newMemoryJournal(t)
	router := newRouter(t, store)
	ctx := context.Background()

	for _, feed := range []string{"a", "b", "c"} {
		if _, err := router.Route(ctx, subscribe("u1", "https://feeds.example/"+feed)); err != nil {
			t.Fatalf("route: %v", err)
		}
	}
	// A second cache that stopped at version 1.
	stale := checkpoint.NewMemory(4)
	early, err := StateLoader{Journal: store}.Load(ctx, userAggregate(), "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	firstOnly, _ := (&aggregate.Folder{}).Fold(aggregate.NewState("u1"), mustRead(t, store, "user-u1")[0])
	_ = stale.SaveState(ctx, "user-u1", 1, firstOnly)

	checkpointEvt, err := aggregate.Checkpoint(early.State, fixedNow)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	stored, err := store.Append(ctx, "user-u1", early.Version, []event.Event{checkpointEvt})
	if err != nil {
		t.Fatalf("append checkpoint: %v", err)
	}
	receipt, err := journal.NewReceipt(stored[0])
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if _, err := store.Prune(ctx, receipt, journal.PrunePolicy{KeepAfter: fixedNow.Add(time.Hour), DeletionExpiry: fixedNow.Add(time.Hour)}); err != nil {
		t.Fatalf("prune: %v", err)
	}

	loaded, err := StateLoader{Journal: store, Cache: stale}.Load(ctx, userAggregate(), "u1")
	if err != nil {
		t.Fatalf("load from stale cache: %v", err)
	}
	state := userState(t, loaded.State)
	if len(state.Subscriptions) != 3 || loaded.Version != 4 {
		t.Fatalf("subscriptions = %d version = %d, want 3 and 4", len(state.Subscriptions), loaded.Version)
	}
}

func mustRead(t *testing.T, store journal.StreamReader, streamKey string) []event.Event {
	t.Helper()
	events, err := store.ReadForward(context.Background(), streamKey, 0, 0)
	if err != nil {
		t.Fatalf("read %s: %v", streamKey, err)
	}
	return events
}

func TestNewRouteTable_RequiresKnownAggregate(t *testing.T) {
	commands := command.NewRegistry()
	if err := commands.Register(command.Definition{Type: "thing.do", Aggregate: "thing"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := NewRouteTable(commands, userAggregate()); err == nil {
		t.Fatal("expected error for command naming an unknown aggregate")
	}
	routes, err := NewRouteTable(command.NewRegistry(), userAggregate())
	if err != nil {
		t.Fatalf("route table: %v", err)
	}
	if _, err := routes.Resolve("thing.do"); !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("err = %v, want ErrRouteNotFound", err)
	}
}
