package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantumlife/planner/internal/core"
	"github.com/quantumlife/planner/internal/notifications"
	"github.com/quantumlife/planner/internal/spaces"
	"github.com/quantumlife/planner/internal/storage"
)

// Sync reasons recorded in the run history
const (
	ReasonTimer  = "timer"
	ReasonManual = "manual"
	ReasonImport = "import"
)

// ProviderResult is one provider's outcome within a cycle
type ProviderResult struct {
	Provider     core.Provider `json:"provider"`
	OK           bool          `json:"ok"`
	Events       int           `json:"events"`
	Error        string        `json:"error,omitempty"`
	Disconnected bool          `json:"disconnected,omitempty"`

	err error
}

// Err returns the failure of this provider, if any.
func (r ProviderResult) Err() error { return r.err }

// Report summarizes a sync cycle
type Report struct {
	Reason     string           `json:"reason"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Results    []ProviderResult `json:"results"`
}

// Succeeded counts the providers that synced.
func (r Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK {
			n++
		}
	}
	return n
}

// Failed returns the providers that did not sync.
func (r Report) Failed() []ProviderResult {
	var out []ProviderResult
	for _, res := range r.Results {
		if !res.OK {
			out = append(out, res)
		}
	}
	return out
}

// Err joins the failures of the cycle.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, res.err)
	}
	return errors.Join(errs...)
}

// RunCycle syncs every connected provider concurrently. Failures stay
// with their provider: the partition keeps its last-known-good events and
// the other providers carry on.
func (s *Syncer) RunCycle(ctx context.Context, reason string) Report {
	report := Report{Reason: reason, StartedAt: s.now()}

	providers := s.Settings().ConnectedProviders()
	window := spaces.DefaultWindow(s.now().In(s.loc), s.pastDays, s.futureDays)
	report.Results = make([]ProviderResult, len(providers))

	// Workers never return an error, so no fetch cancels another
	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			report.Results[i] = s.syncProvider(ctx, p, window, reason)
			return nil
		})
	}
	g.Wait()

	report.FinishedAt = s.now()

	if report.Succeeded() > 0 {
		finished := report.FinishedAt.UTC()
		s.mu.Lock()
		err := s.updateLocked(ctx, func(st *core.SyncSettings) {
			st.LastSyncedAt = &finished
		})
		s.mu.Unlock()
		if err != nil {
			log.WithError(err).Warn("failed to record last sync time")
		}
	}

	log.WithFields(map[string]interface{}{
		"reason":    reason,
		"providers": len(providers),
		"failed":    len(report.Failed()),
	}).Debug("sync cycle finished")
	return report
}

func (s *Syncer) syncProvider(ctx context.Context, p core.Provider, window spaces.Window, reason string) ProviderResult {
	started := s.now()
	res := ProviderResult{Provider: p}

	fail := func(err error) ProviderResult {
		res.err = err
		res.Error = core.UserMessage(err)
		s.record(ctx, p, reason, res, started)
		log.WithField("provider", p).WithError(err).Warn("sync failed")
		return res
	}

	fetcher, ok := s.fetchers[p]
	if !ok {
		return fail(fmt.Errorf("%w: no fetcher for %s", core.ErrUnknownProvider, p))
	}

	token, err := s.vault.GetValidAccessToken(ctx, p)
	if err != nil {
		if errors.Is(err, core.ErrTokenRefreshFailed) {
			if derr := s.Disconnect(ctx, p); derr != nil {
				log.WithField("provider", p).WithError(derr).Error("failed to disconnect after refresh failure")
			} else {
				res.Disconnected = true
			}
		}
		return fail(err)
	}

	fetched, err := fetcher.Fetch(ctx, token, window)
	if err != nil {
		return fail(err)
	}

	// A disconnect that landed while fetching wins over this result
	s.mu.Lock()
	connected := s.settings.IsConnected(p)
	if connected {
		err = s.events.ReplacePartition(ctx, p.Source(), fetched)
	}
	s.mu.Unlock()
	if !connected {
		return fail(fmt.Errorf("%s: %w", p.DisplayName(), core.ErrNotConnected))
	}
	if err != nil {
		return fail(err)
	}

	res.OK = true
	res.Events = len(fetched)
	s.record(ctx, p, reason, res, started)
	return res
}

// record appends a provider's run to the history.
func (s *Syncer) record(ctx context.Context, p core.Provider, reason string, res ProviderResult, started time.Time) {
	s.recordRun(ctx, storage.SyncRun{
		Source:     string(p.Source()),
		Reason:     reason,
		OK:         res.OK,
		EventCount: res.Events,
		Message:    res.Error,
		StartedAt:  started,
	})
}

// Tick is the background cycle: silent on success, one warning per failed
// provider. The joined failures are returned for the scheduler's stats.
func (s *Syncer) Tick(ctx context.Context) error {
	report := s.RunCycle(ctx, ReasonTimer)
	for _, res := range report.Failed() {
		s.notifier.Notify(warning(res))
	}
	return report.Err()
}

// SyncNow runs a cycle immediately and reports one aggregate notice.
func (s *Syncer) SyncNow(ctx context.Context) (Report, error) {
	if !s.Settings().AnyConnected() {
		err := fmt.Errorf("no calendar: %w", core.ErrNotConnected)
		s.notifier.Notify(notifications.Info("Nothing to sync", "Connect a calendar first."))
		return Report{Reason: ReasonManual}, err
	}

	report := s.RunCycle(ctx, ReasonManual)
	failed := report.Failed()
	if len(failed) == 0 {
		total := 0
		for _, res := range report.Results {
			total += res.Events
		}
		s.notifier.Notify(notifications.Success("Calendars synced",
			fmt.Sprintf("%d events from %d calendars", total, len(report.Results))))
		return report, nil
	}

	messages := make([]string, len(failed))
	for i, res := range failed {
		messages[i] = res.Error
	}
	s.notifier.Notify(notifications.Notice{
		Level:   notifications.LevelWarning,
		Title:   fmt.Sprintf("Sync finished with %d of %d calendars failing", len(failed), len(report.Results)),
		Message: strings.Join(messages, " "),
	})
	return report, report.Err()
}

func warning(res ProviderResult) notifications.Notice {
	title := res.Provider.DisplayName() + " sync failed"
	if res.Disconnected {
		title = res.Provider.DisplayName() + " was disconnected"
	}
	return notifications.Warning(title, res.Provider, res.err)
}
