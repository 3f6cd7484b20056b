package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/quantumlife/planner/internal/config"
	"github.com/quantumlife/planner/internal/conflict"
	"github.com/quantumlife/planner/internal/core"
	"github.com/quantumlife/planner/internal/events"
	"github.com/quantumlife/planner/internal/logging"
	"github.com/quantumlife/planner/internal/notifications"
	"github.com/quantumlife/planner/internal/oauthflow"
	"github.com/quantumlife/planner/internal/scheduler"
	"github.com/quantumlife/planner/internal/spaces"
	"github.com/quantumlife/planner/internal/spaces/google"
	"github.com/quantumlife/planner/internal/spaces/outlook"
	"github.com/quantumlife/planner/internal/storage"
	"github.com/quantumlife/planner/internal/syncer"
	"github.com/quantumlife/planner/internal/vault"
)

// app is the wired component graph shared by all commands
type app struct {
	cfg       *config.Config
	db        *storage.DB
	events    *events.Store
	vault     *vault.Vault
	scheduler *scheduler.Scheduler
	syncer    *syncer.Syncer
	notices   *notifications.Service
	flow      *oauthflow.Controller
	resolver  *conflict.Resolver
}

// openApp loads the config, opens the database and wires every component.
// The scheduler is only created for the long-running server.
func openApp(ctx context.Context, withScheduler bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := storage.Open(storage.Config{Path: cfg.DatabasePath()})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	a := &app{cfg: cfg, db: db, notices: notifications.NewService()}
	if err := a.wire(ctx, withScheduler); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, withScheduler bool) error {
	cfg := a.cfg
	records := storage.NewRecordStore(a.db)
	loc := cfg.Location()

	passphrase, err := vaultPassphrase(cfg)
	if err != nil {
		return err
	}
	sealer, err := vault.OpenSealer(ctx, records, passphrase)
	if err != nil {
		return err
	}

	a.events = events.New(records, nil)
	if err := a.events.Load(ctx); err != nil {
		return err
	}

	a.vault = vault.New(records, vault.Options{
		Sealer: sealer,
		OAuth:  oauthflow.ConfigFor(cfg),
		Events: a.events,
	})
	if err := a.vault.Load(ctx); err != nil {
		return err
	}

	fetchers := []spaces.Fetcher{
		google.New(google.Options{
			BaseURL:  spaces.APIBase(core.ProviderGoogle, cfg.Google),
			Location: loc,
			MaxPages: cfg.Sync.MaxPages,
		}),
		outlook.New(outlook.Options{
			BaseURL:  spaces.APIBase(core.ProviderOutlook, cfg.Outlook),
			Location: loc,
			MaxPages: cfg.Sync.MaxPages,
		}),
	}

	if withScheduler {
		a.scheduler = scheduler.NewScheduler(scheduler.Config{Timezone: cfg.Timezone})
	}

	defaults := core.DefaultSyncSettings()
	defaults.BufferMinutes = cfg.Sync.BufferMinutes
	defaults.AutoSyncInterval = time.Duration(cfg.Sync.Interval)
	defaults.FeedURL = cfg.Feed.URL

	a.syncer = syncer.New(syncer.Options{
		Records:    records,
		Vault:      a.vault,
		Events:     a.events,
		Fetchers:   fetchers,
		Scheduler:  a.scheduler,
		SyncLog:    storage.NewSyncLog(a.db),
		Notifier:   notifications.Multi{notifications.LogNotifier{}, a.notices},
		Location:   loc,
		PastDays:   cfg.Sync.PastDays,
		FutureDays: cfg.Sync.FutureDays,
		Cron:       cfg.Sync.Cron,
		Defaults:   defaults,
	})
	if err := a.syncer.Load(ctx); err != nil {
		return err
	}

	a.resolver = conflict.New(a.events, a.syncer.BufferMinutes)
	a.flow = oauthflow.New(oauthflow.Options{
		Config:      cfg,
		Records:     records,
		Vault:       a.vault,
		Connections: a.syncer,
		Notifier:    notifications.Multi{notifications.LogNotifier{}, a.notices},
	})
	return nil
}

// Close stops the scheduler and closes the database
func (a *app) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	a.db.Close()
}

// vaultPassphrase returns the configured passphrase, asking on the
// terminal when none is set. An empty answer keeps tokens unencrypted.
func vaultPassphrase(cfg *config.Config) (string, error) {
	if cfg.Vault.Passphrase != "" || noPrompt {
		return cfg.Vault.Passphrase, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}

	fmt.Fprint(os.Stderr, "Vault passphrase (leave empty to store tokens unencrypted): ")
	passphrase, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(passphrase), nil
}
