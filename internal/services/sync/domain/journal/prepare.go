package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
)

// PrepareBatch validates an append batch and stamps the fields every log assigns
// before sequencing: stream key, registered kind, event id, and a UTC timestamp
// truncated to the millisecond precision logs persist.
func PrepareBatch(registry *event.Registry, streamKey string, events []event.Event) ([]event.Event, error) {
	streamKey = strings.TrimSpace(streamKey)
	if streamKey == "" {
		return nil, ErrStreamKeyRequired
	}
	if len(events) == 0 {
		return nil, ErrEventsRequired
	}
	prepared := make([]event.Event, 0, len(events))
	for _, evt := range events {
		if evt.StreamKey == "" {
			evt.StreamKey = streamKey
		}
		if evt.StreamKey != streamKey {
			return nil, fmt.Errorf("event stream %s does not match append stream %s", evt.StreamKey, streamKey)
		}
		if registry != nil {
			vetted, err := registry.ValidateForAppend(evt)
			if err != nil {
				return nil, err
			}
			evt = vetted
		} else if evt.Kind == "" {
			evt.Kind = event.KindFact
		}
		if evt.ID == "" {
			evt.ID = uuid.NewString()
		}
		evt.Timestamp = evt.Timestamp.UTC().Truncate(time.Millisecond)
		evt.Seq = 0
		evt.Position = 0
		prepared = append(prepared, evt)
	}
	return prepared, nil
}
