package projection

import (
	"fmt"

	"github.com/louisbranch/castsync/internal/services/sync/domain/aggregate"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/storage"
)

// Projector maps one event to idempotent mutations of the read model it owns.
type Projector interface {
	Name() string
	ReadModel() storage.ReadModel
	// Project returns the mutations evt implies. Events the projector does not
	// care about yield no mutations.
	Project(evt event.Event) ([]storage.Mutation, error)
}

// ApplyError reports a projector failing on one event.
type ApplyError struct {
	Projector string
	Position  uint64
	EventType event.Type
	Err       error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("projector %s apply %s at position %d: %v", e.Projector, e.EventType, e.Position, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// Projectors returns every read-model projector.
func Projectors() []Projector {
	return []Projector{
		SubscriptionProjector{},
		EpisodeProjector{},
		PlaylistProjector{},
		FeedTitleProjector{},
	}
}

// Lookup returns the projector with the given name.
func Lookup(name string) (Projector, bool) {
	for _, projector := range Projectors() {
		if projector.Name() == name {
			return projector, true
		}
	}
	return nil, false
}

// userStream reports the user id of a user stream event. Events of other
// aggregates are not projected.
func userStream(evt event.Event) (string, bool) {
	return aggregate.UserIDFromStreamKey(evt.StreamKey)
}
