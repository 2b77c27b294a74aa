package episode

import "time"

// Action names the kind of episode action a device reported.
type Action string

const (
	ActionDownload Action = "download"
	ActionPlay     Action = "play"
	ActionDelete   Action = "delete"
	ActionNew      Action = "new"
)

// Valid reports whether the action is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionDownload, ActionPlay, ActionDelete, ActionNew:
		return true
	}
	return false
}

// State captures the latest recorded action for one episode within one feed.
type State struct {
	EpisodeURL string    `json:"episode_url"`
	FeedURL    string    `json:"feed_url"`
	Action     Action    `json:"action"`
	Position   int64     `json:"position"`
	Total      int64     `json:"total"`
	DeviceID   string    `json:"device_id,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Key returns the state map key for an episode recorded under a feed.
//
// URLs never contain raw spaces once normalized, so a space separates the parts.
func Key(feedURL, episodeURL string) string {
	return feedURL + " " + episodeURL
}
