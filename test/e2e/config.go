//go:build e2e

// Package e2e provides end-to-end tests against the live calendar APIs.
package e2e

import (
	"os"
	"testing"
)

// E2EConfig holds credentials for E2E tests.
type E2EConfig struct {
	// Access tokens, e.g. from scripts/get-token.go
	GoogleAccessToken  string
	OutlookAccessToken string

	// Public .ics feed
	FeedURL string
}

// LoadE2EConfig loads configuration from environment variables.
func LoadE2EConfig(t *testing.T) *E2EConfig {
	t.Helper()

	return &E2EConfig{
		GoogleAccessToken:  os.Getenv("PLANNER_E2E_GOOGLE_TOKEN"),
		OutlookAccessToken: os.Getenv("PLANNER_E2E_OUTLOOK_TOKEN"),
		FeedURL:            os.Getenv("PLANNER_E2E_FEED_URL"),
	}
}

// RequireGoogle skips test if a Google token is not available.
func (c *E2EConfig) RequireGoogle(t *testing.T) {
	t.Helper()
	if c.GoogleAccessToken == "" {
		t.Skip("PLANNER_E2E_GOOGLE_TOKEN not set, skipping Google E2E tests")
	}
}

// RequireOutlook skips test if an Outlook token is not available.
func (c *E2EConfig) RequireOutlook(t *testing.T) {
	t.Helper()
	if c.OutlookAccessToken == "" {
		t.Skip("PLANNER_E2E_OUTLOOK_TOKEN not set, skipping Outlook E2E tests")
	}
}

// RequireFeed skips test if no feed URL is available.
func (c *E2EConfig) RequireFeed(t *testing.T) {
	t.Helper()
	if c.FeedURL == "" {
		t.Skip("PLANNER_E2E_FEED_URL not set, skipping feed E2E tests")
	}
}
