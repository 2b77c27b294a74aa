package engine

import "sync"

// streamLocks serializes work per stream key. The zero value is ready to use.
type streamLocks struct {
	mu    sync.Mutex
	locks map[string]*streamLock
}

type streamLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until the stream is free and returns its unlock function.
func (s *streamLocks) lock(streamKey string) func() {
	s.mu.Lock()
	if s.locks == nil {
		s.locks = make(map[string]*streamLock)
	}
	l, ok := s.locks[streamKey]
	if !ok {
		l = &streamLock{}
		s.locks[streamKey] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, streamKey)
		}
		s.mu.Unlock()
	}
}
