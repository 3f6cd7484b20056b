package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantumlife/planner/internal/api"
	"github.com/quantumlife/planner/internal/core"
)

// serveCmd runs the HTTP API with the periodic sync
func serveCmd() *cobra.Command {
	var port int
	var staticDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the background sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if port != 0 {
				a.cfg.Server.Port = port
			}

			a.scheduler.Start()
			if err := a.syncer.Start(ctx); err != nil {
				return fmt.Errorf("failed to start sync: %w", err)
			}

			server := api.New(api.Config{
				Host:          a.cfg.Server.Host,
				Port:          a.cfg.Server.Port,
				Syncer:        a.syncer,
				Events:        a.events,
				Resolver:      a.resolver,
				Flow:          a.flow,
				Notifications: a.notices,
				Location:      a.cfg.Location(),
				StaticDir:     staticDir,
			})

			// Handle shutdown
			go func() {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
				<-sigCh

				fmt.Println("\nShutting down...")
				shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
				defer done()
				server.Stop(shutdownCtx)
				cancel()
			}()

			fmt.Printf("Planner listening on %s (public URL %s)\n", server.Addr(), a.cfg.Server.PublicURL)
			return server.Start()
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	cmd.Flags().StringVar(&staticDir, "static", "", "directory with the web client to serve at /")
	return cmd
}

// syncCmd runs one manual sync cycle
func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Sync connected calendars now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.syncer.SyncNow(ctx)
			if errors.Is(err, core.ErrNotConnected) {
				fmt.Println("No calendar is connected. Run 'planner serve' and connect one first.")
				return nil
			}

			for _, res := range report.Results {
				switch {
				case res.OK:
					fmt.Printf("  %-8s %d events\n", res.Provider.DisplayName(), res.Events)
				case res.Disconnected:
					fmt.Printf("  %-8s disconnected: %s\n", res.Provider.DisplayName(), res.Error)
				default:
					fmt.Printf("  %-8s failed: %s\n", res.Provider.DisplayName(), res.Error)
				}
			}
			return err
		},
	}
}

// importCmd imports an .ics file or feed URL
func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file|url]",
		Short: "Import an .ics calendar feed",
		Long: `Replaces the imported feed with the events of an .ics file or URL.
Without an argument the feed URL from the settings is downloaded again.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			var source string
			if len(args) == 1 {
				source = args[0]
			}

			var n int
			if source == "" || strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") ||
				strings.HasPrefix(source, "webcal://") {
				n, err = a.syncer.ImportFeedURL(ctx, source)
			} else {
				data, readErr := os.ReadFile(source)
				if readErr != nil {
					return readErr
				}
				n, err = a.syncer.ImportFeed(ctx, string(data))
			}
			if err != nil {
				return fmt.Errorf("import failed: %s", core.UserMessage(err))
			}

			fmt.Printf("Imported %d events\n", n)
			return nil
		},
	}
}

// fitCmd finds the first free slot on a day
func fitCmd() *cobra.Command {
	var (
		date     string
		at       string
		duration time.Duration
		title    string
	)

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Find the first free slot on a day",
		Long: `Finds the first free slot on --date at or after --at that holds
--duration. With --title the session is also saved there.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if date == "" {
				date = core.FormatDate(time.Now().In(a.cfg.Location()))
			}
			start, err := parseClock(at)
			if err != nil {
				return err
			}

			placement, err := a.resolver.Fit(date, start, start+int(duration/time.Minute), "")
			if err != nil {
				return fmt.Errorf("%s", core.UserMessage(err))
			}

			slot := core.FormatMinutes(placement.Start) + "-" + core.FormatMinutes(placement.End)
			if placement.Moved {
				fmt.Printf("%s is taken; first free slot is %s\n", at, slot)
			} else {
				fmt.Printf("%s is free\n", slot)
			}

			if title == "" {
				return nil
			}
			e, err := a.events.Create(ctx, core.Event{
				Title: title,
				Kind:  core.KindSession,
				Date:  date,
				Start: placement.Start,
				End:   placement.End,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Saved %q on %s at %s\n", e.Title, e.Date, slot)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "day as YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&at, "at", "09:00", "desired start as HH:MM")
	cmd.Flags().DurationVar(&duration, "duration", time.Hour, "session length")
	cmd.Flags().StringVar(&title, "title", "", "save a session with this title in the slot")
	return cmd
}

// statusCmd shows connections and recent sync runs
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connections and recent syncs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			st := a.syncer.Status(ctx)

			fmt.Println("Calendars")
			for _, p := range st.Providers {
				state := "not connected"
				if p.Connected {
					state = "connected"
				}
				fmt.Printf("  %-8s %-14s %d events\n", p.Name, state, p.Events)
			}
			fmt.Printf("  %-8s %-14s %d events\n", "Feed", st.Settings.FeedURL, st.Counts[core.SourceFeed])
			fmt.Printf("  %-8s %-14s %d events\n", "Planner", "", st.Counts[core.SourceOwned])

			fmt.Println()
			fmt.Printf("Buffer:     %d minutes\n", st.Settings.BufferMinutes)
			fmt.Printf("Auto-sync:  every %s\n", st.Settings.AutoSyncInterval)
			if st.Settings.LastSyncedAt != nil {
				fmt.Printf("Last sync:  %s\n", st.Settings.LastSyncedAt.In(a.cfg.Location()).Format("2006-01-02 15:04"))
			}

			if len(st.Recent) > 0 {
				fmt.Println()
				fmt.Println("Recent runs")
				for _, run := range st.Recent {
					result := "ok"
					if !run.OK {
						result = "failed: " + run.Message
					}
					fmt.Printf("  %s  %-8s %-7s %3d events  %s\n",
						run.StartedAt.In(a.cfg.Location()).Format("01-02 15:04"), run.Source, run.Reason, run.EventCount, result)
				}
			}
			return nil
		},
	}
}

// disconnectCmd forgets a provider and its events
func disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <google|outlook>",
		Short: "Disconnect a calendar and delete its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := core.ParseProvider(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.syncer.Disconnect(ctx, p); err != nil {
				return err
			}
			fmt.Printf("%s disconnected\n", p.DisplayName())
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("planner %s\n", version)
		},
	}
}

// parseClock reads HH:MM as a minute of the day
func parseClock(s string) (int, error) {
	hours, minutes, ok := strings.Cut(strings.TrimSpace(s), ":")
	h, herr := strconv.Atoi(hours)
	m, merr := strconv.Atoi(minutes)
	if !ok || herr != nil || merr != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return h*60 + m, nil
}
