package playlist

import (
	"slices"
	"time"
)

// State captures one playlist derived from domain events.
type State struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Items     []string  `json:"items"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasItem reports whether the playlist already holds the episode.
func (s State) HasItem(episodeURL string) bool {
	return slices.Contains(s.Items, episodeURL)
}
