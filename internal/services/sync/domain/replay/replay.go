// Package replay rebuilds aggregate state from the event log.
package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/domain/journal"
)

const defaultPageSize = 200

var (
	// ErrEventStoreRequired indicates a missing event store.
	ErrEventStoreRequired = errors.New("event store is required")
	// ErrFolderRequired indicates a missing folder.
	ErrFolderRequired = errors.New("folder is required")
	// ErrStreamKeyRequired indicates a missing stream key.
	ErrStreamKeyRequired = errors.New("stream key is required")
)

// EventStore lists stream events for replay.
type EventStore interface {
	ReadForward(ctx context.Context, streamKey string, afterSeq uint64, limit int) ([]event.Event, error)
}

// CheckpointStore finds the newest checkpoint of a stream.
type CheckpointStore interface {
	EventStore
	LatestCheckpoint(ctx context.Context, streamKey string) (event.Event, error)
}

// Folder folds a domain event into aggregate state.
type Folder interface {
	Fold(state any, evt event.Event) (any, error)
}

// Options configures replay behavior.
type Options struct {
	AfterSeq uint64
	UntilSeq uint64
	PageSize int
}

// Result captures replay outcomes.
type Result struct {
	State   any
	LastSeq uint64
	Applied int
	// CheckpointSeq is the sequence of the checkpoint replay started from, if any.
	CheckpointSeq uint64
}

// Replay folds stream events after options.AfterSeq into state.
//
// Sequences must strictly increase. Gaps are allowed: compaction removes pruned and
// suppressed events, and neither changes the folded result.
func Replay(ctx context.Context, store EventStore, folder Folder, streamKey string, state any, options Options) (Result, error) {
	if store == nil {
		return Result{}, ErrEventStoreRequired
	}
	if folder == nil {
		return Result{}, ErrFolderRequired
	}
	streamKey = strings.TrimSpace(streamKey)
	if streamKey == "" {
		return Result{}, ErrStreamKeyRequired
	}
	pageSize := options.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	result := Result{State: state, LastSeq: options.AfterSeq}
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		events, err := store.ReadForward(ctx, streamKey, result.LastSeq, pageSize)
		if err != nil {
			return result, err
		}
		if len(events) == 0 {
			return result, nil
		}
		for _, evt := range events {
			if options.UntilSeq > 0 && evt.Seq > options.UntilSeq {
				return result, nil
			}
			if evt.Seq <= result.LastSeq {
				return result, fmt.Errorf("event sequence regression: after %d got %d", result.LastSeq, evt.Seq)
			}
			nextState, err := folder.Fold(result.State, evt)
			if err != nil {
				return result, fmt.Errorf("fold %s seq %d: %w", evt.Type, evt.Seq, err)
			}
			result.State = nextState
			result.LastSeq = evt.Seq
			result.Applied++
		}
		if len(events) < pageSize {
			return result, nil
		}
	}
}

// Rebuild folds a stream from its latest checkpoint, or from the first event when
// it has none, starting from the state newState returns.
func Rebuild(ctx context.Context, store CheckpointStore, folder Folder, streamKey string, newState func() any) (Result, error) {
	if store == nil {
		return Result{}, ErrEventStoreRequired
	}
	if folder == nil {
		return Result{}, ErrFolderRequired
	}
	var state any
	if newState != nil {
		state = newState()
	}

	checkpoint, err := store.LatestCheckpoint(ctx, streamKey)
	switch {
	case errors.Is(err, journal.ErrCheckpointNotFound):
		return Replay(ctx, store, folder, streamKey, state, Options{})
	case err != nil:
		return Result{}, err
	}

	restored, err := folder.Fold(state, checkpoint)
	if err != nil {
		return Result{}, fmt.Errorf("restore checkpoint seq %d: %w", checkpoint.Seq, err)
	}
	result, err := Replay(ctx, store, folder, streamKey, restored, Options{AfterSeq: checkpoint.Seq})
	result.CheckpointSeq = checkpoint.Seq
	result.Applied++
	return result, err
}
