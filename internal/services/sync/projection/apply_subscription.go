package projection

import (
	"github.com/louisbranch/castsync/internal/services/sync/domain/aggregate"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/domain/subscription"
	"github.com/louisbranch/castsync/internal/services/sync/storage"
)

// SubscriptionProjector maintains the subscriptions view.
type SubscriptionProjector struct{}

func (SubscriptionProjector) Name() string                 { return "subscriptions" }
func (SubscriptionProjector) ReadModel() storage.ReadModel { return storage.ReadModelSubscriptions }

func (SubscriptionProjector) Project(evt event.Event) ([]storage.Mutation, error) {
	userID, ok := userStream(evt)
	if !ok {
		return nil, nil
	}
	if evt.Type == aggregate.EventTypeCheckpoint {
		state, err := aggregate.RestoreCheckpoint(evt)
		if err != nil {
			return nil, err
		}
		records := make([]storage.SubscriptionRecord, 0, len(state.Subscriptions))
		for _, sub := range state.Subscriptions {
			records = append(records, storage.SubscriptionRecord{
				UserID:       userID,
				FeedURL:      sub.FeedURL,
				DeviceID:     sub.DeviceID,
				SubscribedAt: sub.SubscribedAt,
			})
		}
		return []storage.Mutation{storage.ReplaceSubscriptions{UserID: userID, Records: records}}, nil
	}

	switch evt.Type {
	case subscription.EventTypeSubscribed:
		payload, err := event.DecodePayload[subscription.SubscribePayload](evt)
		if err != nil {
			return nil, err
		}
		return []storage.Mutation{storage.PutSubscription{Record: storage.SubscriptionRecord{
			UserID:       userID,
			FeedURL:      payload.FeedURL,
			DeviceID:     evt.DeviceID,
			SubscribedAt: evt.Timestamp,
		}}}, nil
	case subscription.EventTypeUnsubscribed:
		payload, err := event.DecodePayload[subscription.UnsubscribePayload](evt)
		if err != nil {
			return nil, err
		}
		return []storage.Mutation{storage.DeleteSubscription{UserID: userID, FeedURL: payload.FeedURL}}, nil
	}
	return nil, nil
}
