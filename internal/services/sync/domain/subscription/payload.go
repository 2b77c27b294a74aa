package subscription

// SubscribePayload captures the payload for subscription.subscribe commands and
// subscription.subscribed events.
type SubscribePayload struct {
	FeedURL string `json:"feed_url"`
}

// UnsubscribePayload captures the payload for subscription.unsubscribe commands and
// subscription.unsubscribed events.
type UnsubscribePayload struct {
	FeedURL string `json:"feed_url"`
}

// SyncPayload captures the payload for subscription.sync commands.
//
// A device uploads the feeds it added and removed since its last sync.
type SyncPayload struct {
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}
