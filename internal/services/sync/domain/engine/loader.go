package engine

import (
	"context"
	"errors"

	"github.com/louisbranch/castsync/internal/services/sync/domain/checkpoint"
	"github.com/louisbranch/castsync/internal/services/sync/domain/journal"
	"github.com/louisbranch/castsync/internal/services/sync/domain/replay"
)

// StateCache holds folded stream state between commands.
type StateCache interface {
	GetState(ctx context.Context, streamKey string) (state any, lastSeq uint64, err error)
	SaveState(ctx context.Context, streamKey string, lastSeq uint64, state any) error
	Invalidate(streamKey string)
}

// Loaded is a stream state and the version it was folded through.
type Loaded struct {
	State   any
	Version uint64
}

// StateLoader rebuilds stream state from the cache, the latest checkpoint, and the
// event tail.
type StateLoader struct {
	Journal journal.StreamReader
	Cache   StateCache
}

// Load returns the current state of a stream.
//
// A cached state is extended with the tail after its sequence. When the tail does
// not continue the cached sequence and does not start with a checkpoint, events the
// cache never saw were removed, so the stream is rebuilt from scratch.
func (l StateLoader) Load(ctx context.Context, agg Aggregate, id string) (Loaded, error) {
	if l.Journal == nil {
		return Loaded{}, ErrJournalRequired
	}
	streamKey := agg.StreamKey(id)

	if l.Cache != nil {
		state, seq, err := l.Cache.GetState(ctx, streamKey)
		switch {
		case err == nil:
			loaded, ok, err := l.extend(ctx, agg, streamKey, state, seq)
			if err != nil {
				return Loaded{}, err
			}
			if ok {
				return loaded, nil
			}
			l.Cache.Invalidate(streamKey)
		case !errors.Is(err, checkpoint.ErrNotFound):
			return Loaded{}, err
		}
	}

	result, err := replay.Rebuild(ctx, l.Journal, agg.Folder, streamKey, func() any { return agg.newState(id) })
	if err != nil {
		return Loaded{}, err
	}
	if l.Cache != nil {
		_ = l.Cache.SaveState(ctx, streamKey, result.LastSeq, result.State)
	}
	return Loaded{State: result.State, Version: result.LastSeq}, nil
}

func (l StateLoader) extend(ctx context.Context, agg Aggregate, streamKey string, state any, seq uint64) (Loaded, bool, error) {
	next, err := l.Journal.ReadForward(ctx, streamKey, seq, 1)
	if err != nil {
		return Loaded{}, false, err
	}
	if len(next) == 0 {
		return Loaded{State: state, Version: seq}, true, nil
	}
	if next[0].Seq != seq+1 && !next[0].IsCheckpoint() {
		return Loaded{}, false, nil
	}
	result, err := replay.Replay(ctx, l.Journal, agg.Folder, streamKey, state, replay.Options{AfterSeq: seq})
	if err != nil {
		return Loaded{}, false, err
	}
	if result.LastSeq > seq {
		_ = l.Cache.SaveState(ctx, streamKey, result.LastSeq, result.State)
	}
	return Loaded{State: result.State, Version: result.LastSeq}, true, nil
}
