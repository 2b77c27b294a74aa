package enrich

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/louisbranch/castsync/internal/services/sync/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/louisbranch/castsync/internal/services/sync/enrich")

const (
	DefaultPollInterval  = 2 * time.Second
	DefaultMaxAttempts   = 8
	DefaultRetryBackoff  = 5 * time.Second
	DefaultRetryMaxDelay = 5 * time.Minute
	DefaultBatchSize     = 32
)

// TitleResolver looks up the display title of a feed.
type TitleResolver interface {
	ResolveTitle(ctx context.Context, feedURL string) (string, error)
}

// Store is the durable lookup queue.
type Store interface {
	DueLookups(ctx context.Context, now time.Time, limit int) ([]storage.FeedTitleRecord, error)
	ResolveTitle(ctx context.Context, feedURL, title string, at time.Time) error
	FailLookup(ctx context.Context, feedURL string, cause error, nextTry time.Time, dead bool) error
}

// Outcome is what happened to one lookup.
type Outcome string

const (
	OutcomeResolved Outcome = "resolved"
	OutcomeRetry    Outcome = "retry"
	OutcomeDead     Outcome = "dead"
)

// Worker drains due title lookups.
type Worker struct {
	Store    Store
	Resolver TitleResolver
	// MaxAttempts dead-letters a lookup after this many failures.
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
	PollInterval  time.Duration
	BatchSize     int
	Now           func() time.Time
	Logf          func(string, ...any)
}

// Run polls for due lookups until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.validate(); err != nil {
		return err
	}
	interval := w.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logf("title enrichment failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce resolves one batch of due lookups and reports each outcome by feed URL.
func (w *Worker) RunOnce(ctx context.Context) (map[string]Outcome, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "enrich.RunOnce")
	defer span.End()

	due, err := w.Store.DueLookups(ctx, w.now(), w.batchSize())
	if err != nil {
		return nil, err
	}
	outcomes := make(map[string]Outcome, len(due))
	for _, lookup := range due {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		outcome, err := w.process(ctx, lookup)
		if err != nil {
			return outcomes, err
		}
		outcomes[lookup.FeedURL] = outcome
	}
	span.SetAttributes(attribute.Int("castsync.lookups", len(due)))
	return outcomes, nil
}

func (w *Worker) process(ctx context.Context, lookup storage.FeedTitleRecord) (Outcome, error) {
	title, err := w.Resolver.ResolveTitle(ctx, lookup.FeedURL)
	if err == nil {
		return OutcomeResolved, w.Store.ResolveTitle(ctx, lookup.FeedURL, title, w.now())
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	attempt := lookup.Attempts + 1
	if attempt >= w.maxAttempts() {
		w.logf("title lookup for %s dead after %d attempts: %v", lookup.FeedURL, attempt, err)
		return OutcomeDead, w.Store.FailLookup(ctx, lookup.FeedURL, err, time.Time{}, true)
	}
	delay := w.retryDelay(attempt)
	w.logf("title lookup for %s failed (attempt %d), retrying in %s: %v", lookup.FeedURL, attempt, delay, err)
	return OutcomeRetry, w.Store.FailLookup(ctx, lookup.FeedURL, err, w.now().Add(delay), false)
}

// retryDelay returns the wait after the given failed attempt: RetryBackoff
// doubling per attempt, capped at RetryMaxDelay.
func (w *Worker) retryDelay(attempt int) time.Duration {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.retryBackoff()
	policy.MaxInterval = w.retryMaxDelay()
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.Reset()
	delay := policy.NextBackOff()
	for range attempt - 1 {
		delay = policy.NextBackOff()
	}
	return delay
}

func (w *Worker) validate() error {
	switch {
	case w == nil || w.Store == nil:
		return errors.New("enrichment store is required")
	case w.Resolver == nil:
		return errors.New("title resolver is required")
	}
	return nil
}

func (w *Worker) maxAttempts() int {
	if w.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return w.MaxAttempts
}

func (w *Worker) retryBackoff() time.Duration {
	if w.RetryBackoff <= 0 {
		return DefaultRetryBackoff
	}
	return w.RetryBackoff
}

func (w *Worker) retryMaxDelay() time.Duration {
	if w.RetryMaxDelay <= 0 {
		return DefaultRetryMaxDelay
	}
	return w.RetryMaxDelay
}

func (w *Worker) batchSize() int {
	if w.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return w.BatchSize
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

func (w *Worker) logf(format string, args ...any) {
	if w.Logf != nil {
		w.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}
