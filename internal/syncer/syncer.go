// Package syncer runs sync cycles across the connected calendar providers
// and owns the sync settings.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quantumlife/planner/internal/core"
	"github.com/quantumlife/planner/internal/events"
	"github.com/quantumlife/planner/internal/logging"
	"github.com/quantumlife/planner/internal/notifications"
	"github.com/quantumlife/planner/internal/scheduler"
	"github.com/quantumlife/planner/internal/spaces"
	"github.com/quantumlife/planner/internal/spaces/ics"
	"github.com/quantumlife/planner/internal/storage"
	"github.com/quantumlife/planner/internal/vault"
)

var log = logging.Component("syncer")

// Scheduler task IDs
const (
	SyncTaskID  = "calendar-sync"
	PruneTaskID = "sync-log-prune"
)

// SyncLogRetention is how long sync runs are kept.
const SyncLogRetention = 30 * 24 * time.Hour

var (
	// ErrNoFeedURL means a feed import was requested without a URL.
	ErrNoFeedURL = errors.New("no feed URL configured")
	// ErrInvalidPreferences wraps a rejected settings update.
	ErrInvalidPreferences = errors.New("invalid preferences")
)

// Options configures a Syncer
type Options struct {
	Records   storage.Records
	Vault     *vault.Vault
	Events    *events.Store
	Fetchers  []spaces.Fetcher
	Feed      *ics.Fetcher
	Scheduler *scheduler.Scheduler // nil disables the periodic task
	SyncLog   *storage.SyncLog     // nil disables run history
	Notifier  notifications.Notifier

	Location   *time.Location
	Now        func() time.Time // reference date of the sync window
	PastDays   int
	FutureDays int
	Cron       string // replaces the settings interval when set

	// Defaults seeds the settings before anything was persisted.
	Defaults core.SyncSettings
}

// Syncer is the SyncScheduler
type Syncer struct {
	records   storage.Records
	vault     *vault.Vault
	events    *events.Store
	fetchers  map[core.Provider]spaces.Fetcher
	feed      *ics.Fetcher
	scheduler *scheduler.Scheduler
	syncLog   *storage.SyncLog
	notifier  notifications.Notifier

	loc        *time.Location
	now        func() time.Time
	pastDays   int
	futureDays int
	cron       string

	mu       sync.Mutex
	settings core.SyncSettings

	// schedule the periodic task was registered with
	registered scheduler.Schedule
}

// New creates a syncer. Call Load before use.
func New(opts Options) *Syncer {
	s := &Syncer{
		records:    opts.Records,
		vault:      opts.Vault,
		events:     opts.Events,
		fetchers:   make(map[core.Provider]spaces.Fetcher),
		feed:       opts.Feed,
		scheduler:  opts.Scheduler,
		syncLog:    opts.SyncLog,
		notifier:   opts.Notifier,
		loc:        opts.Location,
		now:        opts.Now,
		pastDays:   opts.PastDays,
		futureDays: opts.FutureDays,
		cron:       opts.Cron,
		settings:   opts.Defaults,
	}
	for _, f := range opts.Fetchers {
		s.fetchers[f.Provider()] = f
	}
	if s.feed == nil {
		s.feed = ics.NewFetcher(nil)
	}
	if s.notifier == nil {
		s.notifier = notifications.LogNotifier{}
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.pastDays == 0 && s.futureDays == 0 {
		s.pastDays, s.futureDays = 30, 180
	}
	if s.settings.Connected == nil {
		s.settings = core.DefaultSyncSettings()
	}
	return s
}

// Load reads the persisted settings.
func (s *Syncer) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := core.DefaultSyncSettings()
	ok, err := storage.GetJSON(ctx, s.records, storage.KeySettings, &stored)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !ok {
		return nil
	}
	if stored.Connected == nil {
		stored.Connected = make(map[core.Provider]bool)
	}
	s.settings = stored
	return nil
}

// Settings returns a copy of the current settings.
func (s *Syncer) Settings() core.SyncSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Clone()
}

// BufferMinutes is the padding applied to external events.
func (s *Syncer) BufferMinutes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.BufferMinutes
}

// updateLocked persists the result of fn applied to a copy of the settings,
// then swaps it in. extra is applied in the same step.
func (s *Syncer) updateLocked(ctx context.Context, fn func(*core.SyncSettings)) error {
	next := s.settings.Clone()
	fn(&next)

	m, err := storage.PutJSON(storage.KeySettings, next)
	if err != nil {
		return err
	}
	if err := s.records.Apply(ctx, m); err != nil {
		return fmt.Errorf("store settings: %w", err)
	}
	s.settings = next
	return nil
}

// Preferences are the user-editable settings. Nil fields are left alone.
type Preferences struct {
	BufferMinutes    *int           `json:"buffer_minutes,omitempty"`
	AutoSyncInterval *time.Duration `json:"auto_sync_interval,omitempty"`
	FeedURL          *string        `json:"feed_url,omitempty"`
}

// MinSyncInterval is the shortest accepted auto-sync interval.
const MinSyncInterval = time.Minute

// UpdatePreferences validates and stores p, then reschedules the periodic
// sync if its interval changed.
func (s *Syncer) UpdatePreferences(ctx context.Context, p Preferences) (core.SyncSettings, error) {
	if p.BufferMinutes != nil && (*p.BufferMinutes < 0 || *p.BufferMinutes > 240) {
		return core.SyncSettings{}, fmt.Errorf("%w: buffer minutes must be between 0 and 240", ErrInvalidPreferences)
	}
	if p.AutoSyncInterval != nil && *p.AutoSyncInterval < MinSyncInterval {
		return core.SyncSettings{}, fmt.Errorf("%w: auto-sync interval must be at least %s", ErrInvalidPreferences, MinSyncInterval)
	}

	s.mu.Lock()
	err := s.updateLocked(ctx, func(st *core.SyncSettings) {
		if p.BufferMinutes != nil {
			st.BufferMinutes = *p.BufferMinutes
		}
		if p.AutoSyncInterval != nil {
			st.AutoSyncInterval = *p.AutoSyncInterval
		}
		if p.FeedURL != nil {
			st.FeedURL = *p.FeedURL
		}
	})
	settings := s.settings.Clone()
	s.mu.Unlock()
	if err != nil {
		return core.SyncSettings{}, err
	}

	s.Reconcile()
	return settings, nil
}

// MarkConnected records that p finished connecting and (re)starts the
// periodic sync.
func (s *Syncer) MarkConnected(ctx context.Context, p core.Provider) error {
	s.mu.Lock()
	err := s.updateLocked(ctx, func(st *core.SyncSettings) {
		st.Connected[p] = true
	})
	s.mu.Unlock()
	if err != nil {
		return err
	}

	log.WithField("provider", p).Info("provider connected")
	s.Reconcile()
	return nil
}

// Disconnect forgets p: its session, every event of its source and its
// connected flag go in one atomic step.
func (s *Syncer) Disconnect(ctx context.Context, p core.Provider) error {
	s.mu.Lock()
	next := s.settings.Clone()
	delete(next.Connected, p)
	m, err := storage.PutJSON(storage.KeySettings, next)
	if err == nil {
		err = s.vault.Disconnect(ctx, p, m)
	}
	if err == nil {
		s.settings = next
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.Reconcile()
	return nil
}

// Reconcile registers the periodic sync while at least one provider is
// connected and removes it otherwise.
func (s *Syncer) Reconcile() {
	if s.scheduler == nil {
		return
	}

	settings := s.Settings()
	if !settings.AnyConnected() {
		if s.scheduler.Has(SyncTaskID) {
			s.scheduler.Unregister(SyncTaskID)
			log.Info("periodic sync stopped")
		}
		s.mu.Lock()
		s.registered = scheduler.Schedule{}
		s.mu.Unlock()
		return
	}

	builder := scheduler.NewTask(SyncTaskID).Name("Calendar sync").Handler(s.Tick)
	if s.cron != "" {
		builder.Cron(s.cron)
	} else {
		builder.Every(settings.AutoSyncInterval)
	}
	task := builder.Build()

	s.mu.Lock()
	unchanged := s.registered == task.Schedule && s.scheduler.Has(SyncTaskID)
	s.mu.Unlock()
	if unchanged {
		return
	}

	if err := s.scheduler.Register(task); err != nil {
		log.WithError(err).Error("failed to schedule periodic sync")
		return
	}
	s.mu.Lock()
	s.registered = task.Schedule
	s.mu.Unlock()
	log.WithField("schedule", task.Schedule.Type).Info("periodic sync scheduled")
}

// RequestImmediate asks for a background sync cycle now.
func (s *Syncer) RequestImmediate() {
	if s.scheduler != nil && s.scheduler.Has(SyncTaskID) {
		if err := s.scheduler.RunNow(SyncTaskID); err == nil {
			return
		}
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.Tick(ctx)
	}()
}

// Start loads state, schedules the maintenance task and reconciles the
// periodic sync.
func (s *Syncer) Start(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		return err
	}
	if s.scheduler != nil && s.syncLog != nil {
		prune := scheduler.NewTask(PruneTaskID).Name("Prune sync history").Daily("03:30").
			Handler(func(ctx context.Context) error {
				n, err := s.syncLog.Prune(ctx, s.now().Add(-SyncLogRetention))
				if err == nil && n > 0 {
					log.WithField("removed", n).Debug("pruned sync history")
				}
				return err
			}).Build()
		if err := s.scheduler.Register(prune); err != nil {
			return err
		}
	}
	s.Reconcile()
	return nil
}
