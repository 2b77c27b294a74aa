package journal

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict indicates the stream moved past the expected version.
	ErrConflict = errors.New("event stream version conflict")
	// ErrUnavailable indicates the log could not be reached; nothing was written.
	ErrUnavailable = errors.New("event log unavailable")
	// ErrStreamKeyRequired indicates a missing stream key.
	ErrStreamKeyRequired = errors.New("stream key is required")
	// ErrEventsRequired indicates an empty append batch.
	ErrEventsRequired = errors.New("at least one event is required")
	// ErrCheckpointNotFound indicates the stream has no checkpoint event.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrCompactionSafety indicates a prune was attempted without a durable
	// checkpoint backing it.
	ErrCompactionSafety = errors.New("prune requires a durable checkpoint")
)

// ConflictError reports the versions involved in a rejected append.
type ConflictError struct {
	StreamKey string
	Expected  uint64
	Actual    uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: stream %s expected version %d, actual %d", ErrConflict, e.StreamKey, e.Expected, e.Actual)
}

// Is lets errors.Is match ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
