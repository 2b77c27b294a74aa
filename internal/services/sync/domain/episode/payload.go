package episode

// RecordPayload captures the payload for episode.record commands and
// episode.action_recorded events.
type RecordPayload struct {
	EpisodeURL string `json:"episode_url"`
	FeedURL    string `json:"feed_url"`
	Action     Action `json:"action"`
	Position   int64  `json:"position,omitempty"`
	Total      int64  `json:"total,omitempty"`
}

// EraseHistoryPayload captures the payload for episode.erase_history commands and
// episode.history_erased events.
type EraseHistoryPayload struct {
	FeedURL string `json:"feed_url"`
}
