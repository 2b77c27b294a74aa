// Package feedurl normalizes podcast feed and episode URLs.
package feedurl

import (
	"net/url"
	"strings"
)

// Normalize trims a URL and reports whether it is an absolute http(s) URL without
// embedded whitespace.
func Normalize(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.ContainsAny(trimmed, " \t\r\n") {
		return "", false
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", false
	}
	scheme := strings.ToLower(parsed.Scheme)
	if (scheme != "http" && scheme != "https") || parsed.Host == "" {
		return "", false
	}
	return trimmed, true
}
