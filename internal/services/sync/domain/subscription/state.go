package subscription

import "time"

// State captures one active subscription derived from domain events.
type State struct {
	FeedURL      string    `json:"feed_url"`
	SubscribedAt time.Time `json:"subscribed_at"`
	DeviceID     string    `json:"device_id,omitempty"`
}
