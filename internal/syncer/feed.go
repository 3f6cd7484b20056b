package syncer

import (
	"context"
	"fmt"
	"strings"

	"github.com/quantumlife/planner/internal/core"
	"github.com/quantumlife/planner/internal/notifications"
	"github.com/quantumlife/planner/internal/spaces/ics"
	"github.com/quantumlife/planner/internal/storage"
)

// ImportFeed parses an .ics text and replaces the feed partition with it.
// Feeds are only ever imported on request, never on a timer.
func (s *Syncer) ImportFeed(ctx context.Context, text string) (int, error) {
	started := s.now()

	parsed, err := ics.Parse(text, s.loc)
	if err == nil {
		err = s.events.ReplacePartition(ctx, core.SourceFeed, parsed)
	}

	run := storage.SyncRun{
		Source:     string(core.SourceFeed),
		Reason:     ReasonImport,
		OK:         err == nil,
		EventCount: len(parsed),
		StartedAt:  started,
	}
	if err != nil {
		run.EventCount = 0
		run.Message = core.UserMessage(err)
	}
	s.recordRun(ctx, run)

	if err != nil {
		s.notifier.Notify(notifications.Warning("Calendar import failed", "", err))
		return 0, err
	}

	s.notifier.Notify(notifications.Success("Calendar imported", fmt.Sprintf("%d events imported", len(parsed))))
	return len(parsed), nil
}

// ImportFeedURL downloads and imports a feed. An empty url uses the one
// in the settings; a new url is remembered after a successful import.
func (s *Syncer) ImportFeedURL(ctx context.Context, url string) (int, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		url = s.Settings().FeedURL
	}
	if url == "" {
		return 0, ErrNoFeedURL
	}

	text, err := s.feed.Fetch(ctx, url)
	if err != nil {
		s.notifier.Notify(notifications.Warning("Calendar import failed", "", err))
		return 0, err
	}

	n, err := s.ImportFeed(ctx, text)
	if err != nil {
		return 0, err
	}

	if url != s.Settings().FeedURL {
		s.mu.Lock()
		err = s.updateLocked(ctx, func(st *core.SyncSettings) { st.FeedURL = url })
		s.mu.Unlock()
		if err != nil {
			log.WithError(err).Warn("failed to remember feed URL")
		}
	}
	return n, nil
}

// recordRun appends to the history. Failures are logged only.
func (s *Syncer) recordRun(ctx context.Context, run storage.SyncRun) {
	if s.syncLog == nil {
		return
	}
	run.FinishedAt = s.now()
	if err := s.syncLog.Record(ctx, run); err != nil {
		log.WithError(err).Warn("failed to record sync run")
	}
}
