package playlist

// CreatePayload captures the payload for playlist.create commands and
// playlist.created events.
type CreatePayload struct {
	PlaylistID string `json:"playlist_id"`
	Name       string `json:"name"`
}

// DeletePayload captures the payload for playlist.delete commands and
// playlist.deleted events.
type DeletePayload struct {
	PlaylistID string `json:"playlist_id"`
}

// ItemPayload captures the payload for playlist item commands and events.
type ItemPayload struct {
	PlaylistID string `json:"playlist_id"`
	EpisodeURL string `json:"episode_url"`
}
