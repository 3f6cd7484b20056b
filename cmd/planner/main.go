// Planner - calendar sync and scheduling for the planner app.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Config
	configPath string
	dataDir    string
	noPrompt   bool

	// Version
	version = "0.1.0-alpha"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "planner",
		Short: "Planner - calendar sync and conflict-free scheduling",
		Long: `Planner mirrors your Google and Outlook calendars and .ics feeds
next to your own sessions and tasks, and places new sessions in the
first free slot of the day.

Tokens and events stay on this machine.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&noPrompt, "no-prompt", false, "never prompt for the vault passphrase")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(fitCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(disconnectCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
