package aggregate

import (
	"sync"

	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
)

// Folder folds events into user state.
//
// Unknown event types leave the state unchanged. The only error a fold returns is a
// checkpoint whose payload cannot be decoded.
type Folder struct {
	foldOnce  sync.Once
	foldIndex map[event.Type]func(State, event.Event) (State, error)
}

func (f *Folder) initFoldIndex() {
	f.foldOnce.Do(func() {
		f.foldIndex = make(map[event.Type]func(State, event.Event) (State, error))
		for _, entry := range foldEntries() {
			for _, t := range entry.types() {
				f.foldIndex[t] = entry.fold
			}
		}
	})
}

// FoldDispatchedTypes returns every event type that reaches a fold function.
func (f *Folder) FoldDispatchedTypes() []event.Type {
	f.initFoldIndex()
	types := make([]event.Type, 0, len(f.foldIndex))
	for t := range f.foldIndex {
		types = append(types, t)
	}
	return types
}

// Fold applies a single event to user state.
func (f *Folder) Fold(state any, evt event.Event) (any, error) {
	current, err := AssertState(state)
	if err != nil {
		return State{}, err
	}
	f.initFoldIndex()
	fn, ok := f.foldIndex[evt.Type]
	if !ok {
		return current, nil
	}
	next, err := fn(current, evt)
	if err != nil {
		return current, err
	}
	return next, nil
}
