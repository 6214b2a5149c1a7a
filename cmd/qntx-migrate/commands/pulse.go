package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/qntx-migrate/am"
	"github.com/teranos/qntx-migrate/logger"
	"github.com/teranos/qntx-migrate/pulse/schedule"
	"github.com/teranos/qntx-migrate/sym"
)

// PulseCmd represents the pulse command
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Pulse + " Manage the Pulse scheduler",
	Long: sym.Pulse + ` Pulse - timed callbacks for scheduled migrations.

Timer migrations are registered with Pulse as one-shot registrations. The Pulse
daemon fires due registrations, which run their migration, and keeps a history
of every fire.

Example:
  qntx-migrate pulse start                # Start daemon in foreground
  qntx-migrate pulse ls --all             # Show registrations, including spent ones
  qntx-migrate pulse trigger <handle>     # Fire a registration now
  qntx-migrate pulse rm <handle>          # Remove a spent registration
  qntx-migrate pulse history <handle>     # Show fire history`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts the Pulse daemon
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Pulse daemon",
	Long: `Start the Pulse daemon in foreground mode.

The daemon will:
- Mark migrations interrupted by a previous crash as failed
- Prune fire history older than pulse.history_retention_days
- Fire due registrations every pulse.ticker_interval_seconds
- Reload migration.timezone when ~/.qntx/am.toml changes
- Run until interrupted (Ctrl+C), finishing the current fire before exit`,
	RunE: runPulseStart,
}

var pulseLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List Pulse registrations",
	RunE:  runPulseLs,
}

var pulseTriggerCmd = &cobra.Command{
	Use:   "trigger <handle>",
	Short: "Fire a registration now, regardless of its fire time",
	Args:  cobra.ExactArgs(1),
	RunE:  runPulseTrigger,
}

var pulseRmCmd = &cobra.Command{
	Use:   "rm <handle>",
	Short: "Remove a spent or disarmed registration and its history",
	Args:  cobra.ExactArgs(1),
	RunE:  runPulseRm,
}

var pulseHistoryCmd = &cobra.Command{
	Use:   "history <handle>",
	Short: "Show the fire history of a registration",
	Args:  cobra.ExactArgs(1),
	RunE:  runPulseHistory,
}

func init() {
	pulseLsCmd.Flags().Bool("all", false, "Include inactive registrations")
	pulseHistoryCmd.Flags().Int("limit", 20, "Number of executions to show")

	PulseCmd.AddCommand(PulseStartCmd)
	PulseCmd.AddCommand(pulseLsCmd)
	PulseCmd.AddCommand(pulseTriggerCmd)
	PulseCmd.AddCommand(pulseRmCmd)
	PulseCmd.AddCommand(pulseHistoryCmd)
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	released, err := a.scheduler.RecoverStale(ctx)
	if err != nil {
		return err
	}
	recovered, err := a.service.RecoverInterrupted(ctx)
	if err != nil {
		return err
	}
	pruned, err := a.scheduler.PruneHistory(ctx, a.cfg.Pulse.HistoryRetentionDays)
	if err != nil {
		logger.Logger.Warnw("Failed to prune fire history", logger.FieldError, err)
	}
	logger.PulseOpenInfow("Pulse daemon starting",
		"released_registrations", released,
		"interrupted_migrations", recovered,
		"pruned_executions", pruned,
		logger.FieldTimezone, a.normalizer.Timezone())

	a.scheduler.SetRateLimit(a.cfg.Pulse.MaxFiresPerMinute)

	var ticker *schedule.Ticker
	interval := time.Duration(a.cfg.Pulse.TickerIntervalSeconds) * time.Second
	if interval > 0 {
		ticker = schedule.NewTickerWithContext(ctx, a.scheduler, schedule.TickerConfig{
			Interval:   interval,
			BatchLimit: a.cfg.Pulse.DueBatchLimit,
		}, logger.ComponentLogger("pulse.ticker"))
		ticker.Start()
	}

	if watcher := startConfigWatcher(a); watcher != nil {
		defer watcher.Stop()
	}

	fmt.Printf("%s Pulse daemon started\n", sym.Pulse)
	if ticker != nil {
		fmt.Printf("  Scheduler interval: %v\n", interval)
		fmt.Printf("  Fires per tick:     %d\n", a.cfg.Pulse.DueBatchLimit)
		if a.cfg.Pulse.MaxFiresPerMinute > 0 {
			fmt.Printf("  Fires per minute:   %d\n", a.cfg.Pulse.MaxFiresPerMinute)
		}
	} else {
		fmt.Printf("  Ticker disabled (pulse.ticker_interval_seconds = 0)\n")
	}
	fmt.Printf("  Timezone:           %s\n", a.normalizer.Timezone())
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Printf("\n%s Shutting down...\n", sym.PulseClose)
	var stats map[string]interface{}
	if ticker != nil {
		ticker.Stop()
		stats = ticker.GetStats()
		fmt.Printf("  Fired %v registrations over %v ticks\n", stats["fired_total"], stats["ticks_since_start"])
	}
	cancel()

	logger.PulseCloseInfow("Pulse daemon stopped", "ticker", stats)
	return nil
}

// startConfigWatcher hot-swaps the server timezone when the user config changes.
// Returns nil when there is no user config to watch.
func startConfigWatcher(a *app) *am.ConfigWatcher {
	path := am.GetUserConfigPath()
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	watcher, err := am.NewConfigWatcher(path, logger.ComponentLogger("am.watcher"))
	if err != nil {
		logger.Logger.Warnw("Config hot reload unavailable", logger.FieldPath, path, logger.FieldError, err)
		return nil
	}
	watcher.OnReload(func(cfg *am.Config) error {
		if err := a.normalizer.SetTimezone(cfg.Migration.Timezone); err != nil {
			return err
		}
		logger.Logger.Infow("Server timezone reloaded", logger.FieldTimezone, a.normalizer.Timezone())
		return nil
	})
	watcher.Start()
	am.SetGlobalWatcher(watcher)
	return watcher
}

func runPulseLs(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	all, _ := cmd.Flags().GetBool("all")
	regs, err := a.scheduler.List(context.Background(), all)
	if err != nil {
		return fmt.Errorf("failed to list registrations: %w", err)
	}

	if len(regs) == 0 {
		fmt.Printf("%s No registrations\n", sym.Pulse)
		return nil
	}

	data := pterm.TableData{{"HANDLE", "NAME", "CALLBACK", "FIRE AT", "REMAINING", "ACTIVE", "LAST CALL"}}
	for _, r := range regs {
		remaining := fmt.Sprint(r.Remaining)
		if r.Recurring() {
			remaining = fmt.Sprintf("every %ds", r.IntervalSeconds)
		}
		active := "no"
		if r.Firing {
			active = "firing"
		} else if r.Active {
			active = "yes"
		}
		data = append(data, []string{
			r.ID.String(),
			truncate(r.Name, 40),
			r.Callback,
			a.normalizer.Render(r.FireAt),
			remaining,
			active,
			localTime(a.normalizer, r.LastCallAt),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runPulseTrigger(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	reg, err := a.scheduler.Get(ctx, schedule.Handle(args[0]))
	if err != nil {
		return err
	}

	fmt.Printf("%s Firing %s (%s)\n", sym.Pulse, reg.Name, reg.ID.Short())
	if err := a.scheduler.TriggerNow(ctx, reg.ID); err != nil {
		return fmt.Errorf("fire failed: %w", err)
	}
	fmt.Printf("%s Fired\n", sym.Pulse)
	return nil
}

func runPulseRm(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	h := schedule.Handle(args[0])
	if err := a.scheduler.Remove(context.Background(), h); err != nil {
		return err
	}
	fmt.Printf("%s Removed %s\n", sym.Pulse, h.Short())
	return nil
}

func runPulseHistory(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	ctx := context.Background()
	reg, err := a.scheduler.Get(ctx, schedule.Handle(args[0]))
	if err != nil {
		return err
	}
	history, err := a.scheduler.History(ctx, reg.ID, limit)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s (%s)\n\n", sym.Pulse, reg.Name, reg.ID)
	if len(history) == 0 {
		fmt.Println("Never fired")
		return nil
	}

	data := pterm.TableData{{"STARTED", "TRIGGER", "STATUS", "DURATION", "ERROR"}}
	for _, e := range history {
		duration := "-"
		if e.DurationMs != nil {
			duration = (time.Duration(*e.DurationMs) * time.Millisecond).String()
		}
		data = append(data, []string{
			a.normalizer.Render(e.StartedAt),
			e.TriggeredBy,
			e.Status,
			duration,
			truncate(e.ErrorMessage, 60),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
