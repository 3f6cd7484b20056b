//go:build e2e

package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/quantumlife/planner/internal/core"
	"github.com/quantumlife/planner/internal/spaces"
	"github.com/quantumlife/planner/internal/spaces/google"
	"github.com/quantumlife/planner/internal/spaces/ics"
	"github.com/quantumlife/planner/internal/spaces/outlook"
)

// checkMirrors verifies the invariants every fetched event must hold.
func checkMirrors(t *testing.T, source core.Source, events []core.Event) {
	t.Helper()
	seen := make(map[string]bool)
	for _, e := range events {
		if e.Source != source || !e.ReadOnly {
			t.Errorf("event %s: source %s read-only %v", e.ID, e.Source, e.ReadOnly)
		}
		if err := e.Validate(); err != nil {
			t.Errorf("event %s invalid: %v", e.ID, err)
		}
		if seen[e.ID] {
			t.Errorf("duplicate event id %s", e.ID)
		}
		seen[e.ID] = true
	}
	t.Logf("fetched %d %s events", len(events), source)
}

func TestGoogle_E2E_Fetch(t *testing.T) {
	cfg := LoadE2EConfig(t)
	cfg.RequireGoogle(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	f := google.New(google.Options{})
	window := spaces.DefaultWindow(time.Now(), 7, 30)

	events, err := f.Fetch(ctx, cfg.GoogleAccessToken, window)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	checkMirrors(t, core.SourceGoogle, events)

	// A second fetch of the same window yields the same ids
	again, err := f.Fetch(ctx, cfg.GoogleAccessToken, window)
	if err != nil {
		t.Fatalf("second Fetch failed: %v", err)
	}
	if len(again) != len(events) {
		t.Errorf("event count changed between fetches: %d then %d", len(events), len(again))
	}
}

func TestGoogle_E2E_RejectsBadToken(t *testing.T) {
	cfg := LoadE2EConfig(t)
	cfg.RequireGoogle(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := google.New(google.Options{}).Fetch(ctx, "not-a-token", spaces.DefaultWindow(time.Now(), 1, 1))
	if err == nil {
		t.Fatal("expected an error for an invalid token")
	}
}

func TestOutlook_E2E_Fetch(t *testing.T) {
	cfg := LoadE2EConfig(t)
	cfg.RequireOutlook(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	events, err := outlook.New(outlook.Options{}).Fetch(ctx, cfg.OutlookAccessToken, spaces.DefaultWindow(time.Now(), 7, 30))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	checkMirrors(t, core.SourceOutlook, events)
}

func TestFeed_E2E_Import(t *testing.T) {
	cfg := LoadE2EConfig(t)
	cfg.RequireFeed(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	text, err := ics.NewFetcher(nil).Fetch(ctx, cfg.FeedURL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	events, err := ics.Parse(text, time.Local)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	checkMirrors(t, core.SourceFeed, events)
}
