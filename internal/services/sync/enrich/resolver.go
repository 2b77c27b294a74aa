package enrich

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

const (
	defaultResolveTimeout = 10 * time.Second
	maxFeedHeadBytes      = 1 << 20
)

// ErrTitleNotFound indicates a feed document without a channel or feed title.
var ErrTitleNotFound = errors.New("feed title not found")

// HTTPResolver reads the channel title of an RSS feed or the title of an Atom
// feed. Only the document head is parsed; items are never read.
type HTTPResolver struct {
	Client    *http.Client
	UserAgent string
}

// ResolveTitle fetches feedURL and returns its title.
func (r HTTPResolver) ResolveTitle(ctx context.Context, feedURL string) (string, error) {
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: defaultResolveTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.5")
	if r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch feed: status %d", resp.StatusCode)
	}
	return parseTitle(io.LimitReader(resp.Body, maxFeedHeadBytes))
}

// parseTitle returns the first title directly under an RSS channel or an Atom
// feed element.
func parseTitle(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charset.NewReaderLabel
	decoder.Strict = false

	var path []string
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			return "", ErrTitleNotFound
		}
		if err != nil {
			return "", fmt.Errorf("parse feed: %w", err)
		}
		switch el := token.(type) {
		case xml.StartElement:
			name := strings.ToLower(el.Name.Local)
			if name == "title" && isTitleParent(path) {
				var title string
				if err := decoder.DecodeElement(&title, &el); err != nil {
					return "", fmt.Errorf("parse feed title: %w", err)
				}
				if title = strings.TrimSpace(title); title == "" {
					return "", ErrTitleNotFound
				}
				return title, nil
			}
			if name == "item" || name == "entry" {
				return "", ErrTitleNotFound
			}
			path = append(path, name)
		case xml.EndElement:
			if len(path) > 0 {
				path = path[:len(path)-1]
			}
		}
	}
}

func isTitleParent(path []string) bool {
	switch len(path) {
	case 1:
		return path[0] == "feed"
	case 2:
		return path[0] == "rss" && path[1] == "channel"
	}
	return false
}
