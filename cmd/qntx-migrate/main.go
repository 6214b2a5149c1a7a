package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/qntx-migrate/cmd/qntx-migrate/commands"
	"github.com/teranos/qntx-migrate/logger"
)

var rootCmd = &cobra.Command{
	Use:   "qntx-migrate",
	Short: "qntx-migrate - One-shot data migration scheduler",
	Long: `qntx-migrate - Define, schedule and run one-shot data migrations.

A migration names a target model and function. It runs either once when the
application is upgraded, or at a scheduled time through the Pulse scheduler.
Every run is recorded with its outcome and, on failure, a diagnostic.

Available commands:
  create     - Define a migration
  update     - Change a migration definition
  load       - Create migrations from a manifest
  ls, show   - Inspect migrations
  run        - Run migrations now
  cancel     - Cancel queued or failed migrations
  requeue    - Queue failed or finished migrations again
  reschedule - Run a migration at a new time
  upgrade    - Run every queued at-upgrade migration
  recover    - Fail migrations interrupted by a crash
  pulse      - Pulse scheduler daemon and registrations
  am         - Manage configuration
  db         - Manage the database

Examples:
  qntx-migrate create "fix vacuum" --model sqlite --function vacuum
  qntx-migrate create nightly --model sqlite --function analyze --at "2026-11-01 03:00:00"
  qntx-migrate ls --status failed
  qntx-migrate pulse start`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger.Logger.Debugw("Logger initialized", "verbosity", logger.LevelName(verbosity), "json", jsonLogs)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	commands.AddAll(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
