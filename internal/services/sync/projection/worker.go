package projection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/domain/journal"
	"github.com/louisbranch/castsync/internal/services/sync/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var tracer = otel.Tracer("github.com/louisbranch/castsync/internal/services/sync/projection")

const (
	// DefaultBatchSize bounds how many events one step reads from the log.
	DefaultBatchSize = 256
	// DefaultPollInterval is how long an idle worker waits before polling again.
	DefaultPollInterval = 500 * time.Millisecond

	healthServicePrefix = "castsync.projector."
)

// HealthReporter receives serving status changes. *health.Server satisfies it.
type HealthReporter interface {
	SetServingStatus(service string, servingStatus healthpb.HealthCheckResponse_ServingStatus)
}

// HealthService returns the health service name reported for a projector.
func HealthService(projector string) string {
	return healthServicePrefix + projector
}

// Worker feeds one projector from the global log.
type Worker struct {
	Projector Projector
	Store     storage.ProjectionStore
	Log       journal.GlobalReader
	// BatchSize defaults to DefaultBatchSize.
	BatchSize int
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	// NewBackOff builds the retry policy for a failing step. Defaults to an
	// exponential backoff capped at 30s.
	NewBackOff func() backoff.BackOff
	Health     HealthReporter
	Logf       func(string, ...any)

	wake     chan struct{}
	degraded bool
}

// Run processes events until ctx ends. A failing event is retried until it
// succeeds; Run returns nil on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.validate(); err != nil {
		return err
	}
	w.report(healthpb.HealthCheckResponse_SERVING)
	defer w.report(healthpb.HealthCheckResponse_NOT_SERVING)

	for {
		applied, err := w.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if applied > 0 {
			continue
		}
		timer := time.NewTimer(w.pollInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-w.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Step applies one batch of events after the stored cursor and returns how many
// events it committed. Failures are retried inside Step, so the only errors it
// returns are cancellation and misconfiguration.
func (w *Worker) Step(ctx context.Context) (int, error) {
	if err := w.validate(); err != nil {
		return 0, err
	}
	name := w.Projector.Name()

	ctx, span := tracer.Start(ctx, "projection.Step")
	defer span.End()
	span.SetAttributes(attribute.String("castsync.projector", name))

	cursor, err := retry(ctx, w, "load cursor", func() (storage.Cursor, error) {
		return w.Store.GetCursor(ctx, name)
	})
	if err != nil {
		return 0, w.fail(span, err)
	}
	events, err := retry(ctx, w, "read log", func() ([]event.Event, error) {
		return w.Log.ReadAllForward(ctx, cursor.Position, w.batchSize())
	})
	if err != nil {
		return 0, w.fail(span, err)
	}

	position := cursor.Position
	applied := 0
	for _, evt := range events {
		committed, err := retry(ctx, w, "apply", func() (bool, error) {
			return w.apply(ctx, position, evt)
		})
		if err != nil {
			return applied, w.fail(span, err)
		}
		if !committed {
			// The cursor moved underneath us, e.g. a reset; reload it.
			w.logf("projector %s: cursor no longer at %d, reloading", name, position)
			break
		}
		position = evt.Position
		applied++
	}
	if w.degraded {
		w.degraded = false
		w.logf("projector %s: recovered at position %d", name, position)
		w.report(healthpb.HealthCheckResponse_SERVING)
	}
	span.SetAttributes(
		attribute.Int("castsync.applied", applied),
		attribute.Int64("castsync.position", int64(position)),
	)
	return applied, nil
}

func (w *Worker) apply(ctx context.Context, from uint64, evt event.Event) (bool, error) {
	name := w.Projector.Name()
	writes, err := w.Projector.Project(evt)
	if err != nil {
		return false, &ApplyError{Projector: name, Position: evt.Position, EventType: evt.Type, Err: err}
	}
	committed, err := w.Store.Commit(ctx, name, w.Projector.ReadModel(), from, evt.Position, writes)
	if err != nil {
		return false, &ApplyError{Projector: name, Position: evt.Position, EventType: evt.Type, Err: err}
	}
	return committed, nil
}

// retry runs op until it succeeds or ctx ends, logging each failure and
// flagging the worker as not serving while it keeps failing.
func retry[T any](ctx context.Context, w *Worker, what string, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		value, err := op()
		if err != nil && ctx.Err() != nil {
			return value, backoff.Permanent(ctx.Err())
		}
		return value, err
	},
		backoff.WithBackOff(w.newBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			w.logf("projector %s: %s failed, retrying in %s: %v", w.Projector.Name(), what, next, err)
			if !w.degraded {
				w.degraded = true
				w.report(healthpb.HealthCheckResponse_NOT_SERVING)
			}
		}),
	)
}

func (w *Worker) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
	return err
}

func (w *Worker) validate() error {
	switch {
	case w == nil:
		return errors.New("projection worker is required")
	case w.Projector == nil:
		return errors.New("projector is required")
	case w.Store == nil:
		return fmt.Errorf("projector %s: projection store is required", w.Projector.Name())
	case w.Log == nil:
		return fmt.Errorf("projector %s: event log is required", w.Projector.Name())
	}
	return nil
}

func (w *Worker) report(status healthpb.HealthCheckResponse_ServingStatus) {
	if w.Health != nil {
		w.Health.SetServingStatus(HealthService(w.Projector.Name()), status)
	}
}

func (w *Worker) newBackOff() backoff.BackOff {
	if w.NewBackOff != nil {
		return w.NewBackOff()
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 30 * time.Second
	return policy
}

func (w *Worker) batchSize() int {
	if w.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return w.BatchSize
}

func (w *Worker) pollInterval() time.Duration {
	if w.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return w.PollInterval
}

func (w *Worker) logf(format string, args ...any) {
	if w.Logf != nil {
		w.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}
