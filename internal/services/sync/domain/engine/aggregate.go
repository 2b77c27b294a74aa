package engine

import (
	"errors"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/domain/command"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
)

// Decider returns a decision for a command. It must only read state.
type Decider interface {
	Decide(state any, cmd command.Command, now func() time.Time) command.Decision
}

// Folder folds events into state.
type Folder interface {
	Fold(state any, evt event.Event) (any, error)
}

// Aggregate describes one aggregate type the router can serve.
type Aggregate struct {
	// Type prefixes stream keys: "<type>-<id>".
	Type string
	// NewState returns the empty state for an aggregate instance.
	NewState func(id string) any
	Decider  Decider
	Folder   Folder
	// Checkpoint encodes a full state as a checkpoint event.
	Checkpoint func(state any, now time.Time) (event.Event, error)
}

func (a Aggregate) validate() error {
	if a.Type == "" {
		return errors.New("aggregate type is required")
	}
	if a.Decider == nil {
		return ErrDeciderRequired
	}
	if a.Folder == nil {
		return errors.New("aggregate folder is required")
	}
	return nil
}

// StreamKey returns the stream key of an aggregate instance.
func (a Aggregate) StreamKey(id string) string {
	return a.Type + "-" + id
}

func (a Aggregate) newState(id string) any {
	if a.NewState == nil {
		return nil
	}
	return a.NewState(id)
}
