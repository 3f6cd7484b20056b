package ics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxFeedBytes bounds how much of a feed is read
const maxFeedBytes = 8 << 20

// Fetcher downloads .ics feeds for manual import
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a feed fetcher. A nil client gets a 15s timeout.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client}
}

// Fetch downloads the feed at rawURL. webcal:// links are fetched over https.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	feedURL := strings.TrimSpace(rawURL)
	if rest, ok := strings.CutPrefix(feedURL, "webcal://"); ok {
		feedURL = "https://" + rest
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return "", fmt.Errorf("create feed request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch feed: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return "", fmt.Errorf("read feed: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"host":  req.URL.Host,
		"bytes": len(body),
	}).Info("fetched feed")
	return string(body), nil
}
