package settings

import (
	"strings"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/domain/feedurl"
)

// ScopeAccount addresses the account-wide privacy flag.
const ScopeAccount = "account"

const scopeFeedPrefix = "feed:"

// Device captures one registered device.
type Device struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	RegisteredAt time.Time `json:"registered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// State captures privacy flags and devices derived from domain events.
type State struct {
	Privacy map[string]bool   `json:"privacy"`
	Devices map[string]Device `json:"devices"`
}

// NormalizeScope validates a privacy scope. Valid scopes are "account" and
// "feed:<url>".
func NormalizeScope(raw string) (string, bool) {
	scope := strings.TrimSpace(raw)
	if scope == ScopeAccount {
		return scope, true
	}
	rest, ok := strings.CutPrefix(scope, scopeFeedPrefix)
	if !ok {
		return "", false
	}
	feedURL, ok := feedurl.Normalize(rest)
	if !ok {
		return "", false
	}
	return scopeFeedPrefix + feedURL, true
}

// FeedScope returns the privacy scope for one feed.
func FeedScope(feedURL string) string {
	return scopeFeedPrefix + feedURL
}

// IsPublic reports the effective privacy of a scope. Feed scopes fall back to the
// account flag; an unset account is private.
func (s State) IsPublic(scope string) bool {
	if public, ok := s.Privacy[scope]; ok {
		return public
	}
	return s.Privacy[ScopeAccount]
}
