package projection

import (
	"sort"

	"github.com/louisbranch/castsync/internal/services/sync/domain/aggregate"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/domain/subscription"
	"github.com/louisbranch/castsync/internal/services/sync/storage"
)

// FeedTitleProjector queues a title lookup for every subscribed feed.
type FeedTitleProjector struct{}

func (FeedTitleProjector) Name() string                 { return "feed_titles" }
func (FeedTitleProjector) ReadModel() storage.ReadModel { return storage.ReadModelFeedTitles }

func (FeedTitleProjector) Project(evt event.Event) ([]storage.Mutation, error) {
	if _, ok := userStream(evt); !ok {
		return nil, nil
	}
	if evt.Type == aggregate.EventTypeCheckpoint {
		state, err := aggregate.RestoreCheckpoint(evt)
		if err != nil {
			return nil, err
		}
		feeds := make([]string, 0, len(state.Subscriptions))
		for feedURL := range state.Subscriptions {
			feeds = append(feeds, feedURL)
		}
		sort.Strings(feeds)
		writes := make([]storage.Mutation, 0, len(feeds))
		for _, feedURL := range feeds {
			writes = append(writes, storage.EnqueueTitleLookup{FeedURL: feedURL, RequestedAt: evt.Timestamp})
		}
		return writes, nil
	}
	if evt.Type != subscription.EventTypeSubscribed {
		return nil, nil
	}
	payload, err := event.DecodePayload[subscription.SubscribePayload](evt)
	if err != nil {
		return nil, err
	}
	return []storage.Mutation{storage.EnqueueTitleLookup{FeedURL: payload.FeedURL, RequestedAt: evt.Timestamp}}, nil
}
