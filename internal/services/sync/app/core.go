package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/compaction"
	"github.com/louisbranch/castsync/internal/services/sync/domain/aggregate"
	"github.com/louisbranch/castsync/internal/services/sync/domain/checkpoint"
	"github.com/louisbranch/castsync/internal/services/sync/domain/command"
	"github.com/louisbranch/castsync/internal/services/sync/domain/engine"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/enrich"
	"github.com/louisbranch/castsync/internal/services/sync/projection"
	"github.com/louisbranch/castsync/internal/services/sync/storage"
)

// UserAggregate describes the user aggregate for routing and compaction.
func UserAggregate() engine.Aggregate {
	return engine.Aggregate{
		Type:       aggregate.AggregateType,
		NewState:   func(id string) any { return aggregate.NewState(id) },
		Decider:    aggregate.Decider{},
		Folder:     &aggregate.Folder{},
		Checkpoint: aggregate.Checkpoint,
	}
}

// Core wires the router, projection workers, compactor, and title enrichment
// over one set of stores.
type Core struct {
	Commands  *command.Registry
	Events    *event.Registry
	Router    *engine.Router
	Workers   []*projection.Worker
	Runner    *projection.Runner
	Compactor *compaction.Compactor
	// Enricher is nil when the titles store is closed.
	Enricher *enrich.Worker
}

// NewCore builds the core over stores. The registries must be the ones the
// event store was opened with.
func NewCore(stores *Stores, commands *command.Registry, events *event.Registry, cfg RuntimeConfig, health projection.HealthReporter) (*Core, error) {
	if stores == nil || stores.Events == nil || stores.Projections == nil {
		return nil, errors.New("event and projection stores are required")
	}
	cfg = cfg.normalized()
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	user := UserAggregate()
	routes, err := engine.NewRouteTable(commands, user)
	if err != nil {
		return nil, err
	}
	cache := checkpoint.NewMemory(cfg.CacheSize)
	core := &Core{
		Commands: commands,
		Events:   events,
		Router: &engine.Router{
			Commands: commands,
			Events:   events,
			Routes:   routes,
			Journal:  stores.Events,
			Cache:    cache,
			Now:      now,
		},
		Compactor: &compaction.Compactor{
			Log:        stores.Events,
			Aggregates: []engine.Aggregate{user},
			Config: compaction.Config{
				Interval:          cfg.CompactionInterval,
				Retention:         cfg.Retention,
				SafetyWindow:      cfg.SafetyWindow,
				DeletionRetention: cfg.DeletionRetention,
				BatchSize:         cfg.CompactionBatchSize,
			},
			Cache: cache,
			Now:   now,
			Logf:  log.Printf,
		},
	}

	for _, projector := range projection.Projectors() {
		if projector.ReadModel() == storage.ReadModelFeedTitles && stores.Titles == nil {
			continue
		}
		store, err := stores.ProjectionStore(projector)
		if err != nil {
			return nil, err
		}
		core.Workers = append(core.Workers, &projection.Worker{
			Projector:    projector,
			Store:        store,
			Log:          stores.Events,
			BatchSize:    cfg.ProjectionBatchSize,
			PollInterval: cfg.ProjectionPollInterval,
			NewBackOff:   cfg.ProjectionBackOff,
			Health:       health,
			Logf:         log.Printf,
		})
	}
	core.Runner = projection.NewRunner(core.Workers...)

	if stores.Titles != nil {
		core.Enricher = &enrich.Worker{
			Store: stores.Titles,
			Resolver: enrich.HTTPResolver{
				Client:    &http.Client{Timeout: cfg.TitleFetchTimeout},
				UserAgent: cfg.UserAgent,
			},
			MaxAttempts:   cfg.TitleMaxAttempts,
			RetryBackoff:  cfg.TitleRetryBackoff,
			RetryMaxDelay: cfg.TitleRetryMaxDelay,
			PollInterval:  cfg.TitlePollInterval,
			Now:           now,
			Logf:          log.Printf,
		}
	}
	return core, nil
}

// Route routes cmd and wakes the projection workers when events were appended.
func (c *Core) Route(ctx context.Context, cmd command.Command) (engine.Ack, error) {
	ack, err := c.Router.Route(ctx, cmd)
	if err != nil {
		return ack, err
	}
	if len(ack.Events) > 0 {
		c.Runner.Notify()
	}
	return ack, nil
}
