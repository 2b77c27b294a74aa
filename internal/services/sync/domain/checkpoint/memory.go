// Package checkpoint caches folded stream state between commands.
package checkpoint

import (
	"container/list"
	"context"
	"errors"
	"strings"
	"sync"
)

const defaultCapacity = 1024

var (
	// ErrStreamKeyRequired indicates a missing stream key.
	ErrStreamKeyRequired = errors.New("stream key is required")
	// ErrNotFound indicates no cached state exists for the stream.
	ErrNotFound = errors.New("cached state not found")
)

// Memory keeps the most recently used stream states in memory.
//
// Cached states are shared, not copied: folds never mutate a state they receive,
// so handing the same value to several readers is safe.
type Memory struct {
	capacity int

	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element
}

type entry struct {
	streamKey string
	seq       uint64
	state     any
}

// NewMemory creates a cache holding at most capacity streams. A capacity of zero or
// less uses the default.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Memory{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// GetState returns the cached state of a stream and the sequence it was folded to.
func (m *Memory) GetState(ctx context.Context, streamKey string) (any, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if m == nil {
		return nil, 0, ErrNotFound
	}
	streamKey = strings.TrimSpace(streamKey)
	if streamKey == "" {
		return nil, 0, ErrStreamKeyRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[streamKey]
	if !ok {
		return nil, 0, ErrNotFound
	}
	m.order.MoveToFront(elem)
	cached := elem.Value.(*entry)
	return cached.state, cached.seq, nil
}

// SaveState caches a stream state folded through seq. An older sequence never
// replaces a newer one.
func (m *Memory) SaveState(ctx context.Context, streamKey string, seq uint64, state any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m == nil {
		return errors.New("checkpoint cache is required")
	}
	streamKey = strings.TrimSpace(streamKey)
	if streamKey == "" {
		return ErrStreamKeyRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[streamKey]; ok {
		cached := elem.Value.(*entry)
		if seq >= cached.seq {
			cached.seq = seq
			cached.state = state
		}
		m.order.MoveToFront(elem)
		return nil
	}
	m.entries[streamKey] = m.order.PushFront(&entry{streamKey: streamKey, seq: seq, state: state})
	for m.order.Len() > m.capacity {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*entry).streamKey)
	}
	return nil
}

// Invalidate drops a stream's cached state.
func (m *Memory) Invalidate(streamKey string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.entries[strings.TrimSpace(streamKey)]; ok {
		m.order.Remove(elem)
		delete(m.entries, elem.Value.(*entry).streamKey)
	}
}

// Len returns the number of cached streams.
func (m *Memory) Len() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
