package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/domain/command"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/domain/journal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
)

// DefaultMaxRetries bounds how often a conflicting command is reloaded and decided
// again before the conflict is surfaced.
const DefaultMaxRetries = 3

var tracer = otel.Tracer("github.com/louisbranch/castsync/internal/services/sync/domain/engine")

// Ack acknowledges a routed command.
type Ack struct {
	StreamKey string
	// Version is the stream version after the command.
	Version uint64
	// Events holds the appended events; empty for a no-op.
	Events []event.Event
	// State is the stream state after folding Events.
	State any
	// Attempts counts decide/append rounds, including conflict retries.
	Attempts int
}

// Router validates, decides, and appends commands.
//
// A Router must not be copied after first use.
type Router struct {
	Commands *command.Registry
	Events   *event.Registry
	Routes   *RouteTable
	Journal  journal.Store
	// Cache holds stream state between commands; nil disables caching.
	Cache StateCache
	Now   func() time.Time
	// MaxRetries bounds conflict retries; zero uses DefaultMaxRetries and a
	// negative value disables retries.
	MaxRetries int

	locks streamLocks
}

// Route handles one command end to end.
//
// Cancellation is honoured until the append starts; an append that has started
// runs to completion even if ctx is cancelled.
func (r *Router) Route(ctx context.Context, cmd command.Command) (Ack, error) {
	if r.Commands == nil {
		return Ack{}, ErrCommandRegistryRequired
	}
	if r.Journal == nil {
		return Ack{}, ErrJournalRequired
	}
	validated, err := r.Commands.ValidateForDecision(cmd)
	if err != nil {
		return Ack{}, err
	}
	cmd = validated
	route, err := r.Routes.Resolve(cmd.Type)
	if err != nil {
		return Ack{}, err
	}
	streamKey := route.StreamKey(cmd)

	ctx, span := tracer.Start(ctx, "engine.Route")
	defer span.End()
	span.SetAttributes(
		attribute.String("castsync.command_type", string(cmd.Type)),
		attribute.String("castsync.stream_key", streamKey),
	)

	unlock := r.locks.lock(streamKey)
	defer unlock()

	ack, err := r.routeLocked(ctx, route, cmd, streamKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	return ack, err
}

func (r *Router) routeLocked(ctx context.Context, route Route, cmd command.Command, streamKey string) (Ack, error) {
	loader := StateLoader{Journal: r.Journal, Cache: r.Cache}
	maxRetries := r.maxRetries()
	now := r.Now
	if now == nil {
		now = time.Now
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Ack{}, err
		}
		loaded, err := loader.Load(ctx, route.Aggregate, cmd.AggregateID)
		if err != nil {
			return Ack{}, fmt.Errorf("load %s: %w", streamKey, err)
		}

		decision := route.Aggregate.Decider.Decide(loaded.State, cmd, now)
		if len(decision.Rejections) > 0 {
			return Ack{}, &RejectionError{CommandType: cmd.Type, StreamKey: streamKey, Rejections: decision.Rejections}
		}
		if len(decision.Events) == 0 {
			return Ack{StreamKey: streamKey, Version: loaded.Version, State: loaded.State, Attempts: attempt}, nil
		}
		pending, err := r.prepare(streamKey, decision.Events)
		if err != nil {
			return Ack{}, err
		}

		if err := ctx.Err(); err != nil {
			return Ack{}, err
		}
		stored, err := r.Journal.Append(context.WithoutCancel(ctx), streamKey, loaded.Version, pending)
		if err != nil {
			if errors.Is(err, journal.ErrConflict) {
				if r.Cache != nil {
					r.Cache.Invalidate(streamKey)
				}
				if attempt <= maxRetries {
					log.Printf("route %s %s: conflict on attempt %d, retrying", cmd.Type, streamKey, attempt)
					continue
				}
			}
			return Ack{}, fmt.Errorf("append %s: %w", streamKey, err)
		}

		state := loaded.State
		for _, evt := range stored {
			state, err = route.Aggregate.Folder.Fold(state, evt)
			if err != nil {
				// The events are durable; only the local copy is unusable.
				if r.Cache != nil {
					r.Cache.Invalidate(streamKey)
				}
				return Ack{}, wrapNonRetryable(fmt.Errorf("fold appended %s seq %d: %w", evt.Type, evt.Seq, err))
			}
		}
		version := stored[len(stored)-1].Seq
		if r.Cache != nil {
			_ = r.Cache.SaveState(context.WithoutCancel(ctx), streamKey, version, state)
		}
		return Ack{StreamKey: streamKey, Version: version, Events: stored, State: state, Attempts: attempt}, nil
	}
}

func (r *Router) prepare(streamKey string, events []event.Event) ([]event.Event, error) {
	pending := make([]event.Event, 0, len(events))
	for _, evt := range events {
		evt.StreamKey = streamKey
		if r.Events != nil {
			vetted, err := r.Events.ValidateForAppend(evt)
			if err != nil {
				return nil, err
			}
			evt = vetted
		}
		pending = append(pending, evt)
	}
	return pending, nil
}

func (r *Router) maxRetries() int {
	switch {
	case r.MaxRetries == 0:
		return DefaultMaxRetries
	case r.MaxRetries < 0:
		return 0
	default:
		return r.MaxRetries
	}
}
