package subscription

import (
	"encoding/json"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/domain/command"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
	"github.com/louisbranch/castsync/internal/services/sync/domain/feedurl"
)

const (
	CommandTypeSubscribe   command.Type = "subscription.subscribe"
	CommandTypeUnsubscribe command.Type = "subscription.unsubscribe"
	CommandTypeSync        command.Type = "subscription.sync"
	EventTypeSubscribed    event.Type   = "subscription.subscribed"
	EventTypeUnsubscribed  event.Type   = "subscription.unsubscribed"

	// EntityType addresses subscription events by feed URL.
	EntityType = "subscription"

	RejectionCodeAlreadySubscribed = "ALREADY_SUBSCRIBED"
	RejectionCodeNotSubscribed     = "NOT_SUBSCRIBED"
	RejectionCodeFeedURLInvalid    = "FEED_URL_INVALID"
	RejectionCodeDeviceRequired    = "DEVICE_REQUIRED"
	RejectionCodeSyncConflict      = "SYNC_CONFLICT"
	rejectionCodeCommandUnknown    = "COMMAND_TYPE_UNSUPPORTED"
)

// Decide returns the decision for a subscription command against the user's active
// subscriptions.
func Decide(state map[string]State, cmd command.Command, now func() time.Time) command.Decision {
	if now == nil {
		now = time.Now
	}
	switch cmd.Type {
	case CommandTypeSubscribe:
		var payload SubscribePayload
		_ = json.Unmarshal(cmd.PayloadJSON, &payload)
		feedURL, ok := feedurl.Normalize(payload.FeedURL)
		if !ok {
			return command.Reject(command.Rejection{Code: RejectionCodeFeedURLInvalid, Message: "feed url must be an absolute http(s) url"})
		}
		if _, exists := state[feedURL]; exists {
			return command.Reject(command.Rejection{Code: RejectionCodeAlreadySubscribed, Message: "already subscribed to " + feedURL})
		}
		return command.Accept(subscribedEvent(cmd, feedURL, now().UTC()))
	case CommandTypeUnsubscribe:
		var payload UnsubscribePayload
		_ = json.Unmarshal(cmd.PayloadJSON, &payload)
		feedURL, ok := feedurl.Normalize(payload.FeedURL)
		if !ok {
			return command.Reject(command.Rejection{Code: RejectionCodeFeedURLInvalid, Message: "feed url must be an absolute http(s) url"})
		}
		if _, exists := state[feedURL]; !exists {
			return command.Reject(command.Rejection{Code: RejectionCodeNotSubscribed, Message: "not subscribed to " + feedURL})
		}
		return command.Accept(unsubscribedEvent(cmd, feedURL, now().UTC()))
	case CommandTypeSync:
		return decideSync(state, cmd, now().UTC())
	default:
		return command.Reject(command.Rejection{Code: rejectionCodeCommandUnknown, Message: "unsupported subscription command " + string(cmd.Type)})
	}
}

// decideSync turns a device upload into the minimal set of subscription facts.
//
// Feeds already in the requested state produce no events, so a repeated upload is a
// legitimate no-op.
func decideSync(state map[string]State, cmd command.Command, now time.Time) command.Decision {
	if cmd.Causation.DeviceID == "" {
		return command.Reject(command.Rejection{Code: RejectionCodeDeviceRequired, Message: "subscription sync requires a device"})
	}
	var payload SyncPayload
	_ = json.Unmarshal(cmd.PayloadJSON, &payload)

	adds, ok := normalizeFeedList(payload.Add)
	if !ok {
		return command.Reject(command.Rejection{Code: RejectionCodeFeedURLInvalid, Message: "sync add list contains an invalid feed url"})
	}
	removes, ok := normalizeFeedList(payload.Remove)
	if !ok {
		return command.Reject(command.Rejection{Code: RejectionCodeFeedURLInvalid, Message: "sync remove list contains an invalid feed url"})
	}
	removing := make(map[string]struct{}, len(removes))
	for _, feedURL := range removes {
		removing[feedURL] = struct{}{}
	}
	for _, feedURL := range adds {
		if _, conflict := removing[feedURL]; conflict {
			return command.Reject(command.Rejection{Code: RejectionCodeSyncConflict, Message: "feed is both added and removed: " + feedURL})
		}
	}

	var events []event.Event
	for _, feedURL := range adds {
		if _, exists := state[feedURL]; exists {
			continue
		}
		events = append(events, subscribedEvent(cmd, feedURL, now))
	}
	for _, feedURL := range removes {
		if _, exists := state[feedURL]; !exists {
			continue
		}
		events = append(events, unsubscribedEvent(cmd, feedURL, now))
	}
	if len(events) == 0 {
		return command.NoOp()
	}
	return command.Accept(events...)
}

// normalizeFeedList normalizes and de-duplicates feed urls preserving order.
func normalizeFeedList(raw []string) ([]string, bool) {
	seen := make(map[string]struct{}, len(raw))
	normalized := make([]string, 0, len(raw))
	for _, value := range raw {
		feedURL, ok := feedurl.Normalize(value)
		if !ok {
			return nil, false
		}
		if _, dup := seen[feedURL]; dup {
			continue
		}
		seen[feedURL] = struct{}{}
		normalized = append(normalized, feedURL)
	}
	return normalized, true
}

func subscribedEvent(cmd command.Command, feedURL string, now time.Time) event.Event {
	payloadJSON, _ := json.Marshal(SubscribePayload{FeedURL: feedURL})
	return command.NewEvent(cmd, EventTypeSubscribed, EntityType, feedURL, payloadJSON, now)
}

func unsubscribedEvent(cmd command.Command, feedURL string, now time.Time) event.Event {
	payloadJSON, _ := json.Marshal(UnsubscribePayload{FeedURL: feedURL})
	return command.NewEvent(cmd, EventTypeUnsubscribed, EntityType, feedURL, payloadJSON, now)
}
