package projection

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Runner supervises one worker per projector.
type Runner struct {
	workers []*Worker
}

// NewRunner prepares workers to run together and be woken by Notify.
func NewRunner(workers ...*Worker) *Runner {
	for _, worker := range workers {
		if worker != nil && worker.wake == nil {
			worker.wake = make(chan struct{}, 1)
		}
	}
	return &Runner{workers: workers}
}

// Run blocks until ctx ends or a worker fails to start.
func (r *Runner) Run(ctx context.Context) error {
	if r == nil || len(r.workers) == 0 {
		return errors.New("at least one projection worker is required")
	}
	group, groupCtx := errgroup.WithContext(ctx)
	for _, worker := range r.workers {
		if worker == nil {
			continue
		}
		group.Go(func() error {
			return worker.Run(groupCtx)
		})
	}
	return group.Wait()
}

// Notify wakes idle workers so new events are projected without waiting for
// the next poll.
func (r *Runner) Notify() {
	if r == nil {
		return
	}
	for _, worker := range r.workers {
		if worker == nil {
			continue
		}
		select {
		case worker.wake <- struct{}{}:
		default:
		}
	}
}
