package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/teranos/qntx-migrate/errors"
	"github.com/teranos/qntx-migrate/logger"
	"github.com/teranos/qntx-migrate/migration"
	"github.com/teranos/qntx-migrate/sym"
)

// RunCmd runs migrations immediately
var RunCmd = &cobra.Command{
	Use:   "run <id>...",
	Short: sym.Migrate + " Run queued migrations now",
	Long: sym.Migrate + ` Run queued migrations now, one after another in the order given.
A failing migration does not stop the others; its diagnostic is recorded and shown
with "qntx-migrate show <id>". Timer migrations that ran are removed from the
Pulse schedule.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

// CancelCmd cancels migrations
var CancelCmd = &cobra.Command{
	Use:   "cancel <id>...",
	Short: sym.Migrate + " Cancel queued or failed migrations",
	Long: sym.Migrate + ` Cancel queued or failed migrations and disarm their Pulse
registrations. Cancelled migrations cannot be requeued.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCancel,
}

// RequeueCmd queues failed or finished migrations again
var RequeueCmd = &cobra.Command{
	Use:   "requeue <id>...",
	Short: sym.Migrate + " Queue failed or finished migrations again",
	Long: sym.Migrate + ` Queue failed or finished migrations again. At-upgrade migrations
run at the next upgrade; timer migrations need "qntx-migrate reschedule" to be armed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRequeue,
}

// RescheduleCmd arms a migration at a new time
var RescheduleCmd = &cobra.Command{
	Use:   "reschedule <id> <time>",
	Short: sym.AT + " Run a migration at a new time",
	Long: sym.AT + ` Queue a migration again and run it once at the given time through Pulse.
The migration becomes a timer migration. The time is interpreted in
migration.timezone unless --utc is set.

Examples:
  qntx-migrate reschedule 7 "2026-11-02 03:00:00"
  qntx-migrate reschedule 7 "2026-11-02T02:00:00Z"`,
	Args: cobra.ExactArgs(2),
	RunE: runReschedule,
}

// UpgradeCmd runs the at-upgrade batch
var UpgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: sym.Upgrade + " Run every queued at-upgrade migration",
	Long: sym.Upgrade + ` Run every queued at-upgrade migration once, in creation order.

Individual failures are recorded on the migrations and never fail the upgrade:
the command exits 0 so the surrounding deploy can continue. Disable with
migration.run_at_upgrade = false.`,
	Args: cobra.NoArgs,
	RunE: runUpgrade,
}

// RecoverCmd repairs state left by a crashed process
var RecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: sym.Migrate + " Mark interrupted migrations failed",
	Long: sym.Migrate + ` Mark migrations left running by a stopped process as failed, and
release Pulse registrations left mid-fire, so both can be retried.
Only use this when no other qntx-migrate process is running.`,
	Args: cobra.NoArgs,
	RunE: runRecover,
}

func runRun(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result := a.service.BatchRun(context.Background(), ids)
	for _, o := range result.Outcomes {
		printOutcome(o)
	}
	fmt.Printf("\nTotal: %d, succeeded: %d, failed: %d, skipped: %d\n",
		result.Total, result.Succeeded, result.Failed, result.Skipped)

	if result.Failed+result.Skipped > 0 {
		return errors.Newf("%d of %d migrations did not succeed", result.Failed+result.Skipped, result.Total)
	}
	return nil
}

func printOutcome(o migration.RunOutcome) {
	switch {
	case o.Err != nil:
		fmt.Printf("  #%d skipped: %v\n", o.ID, o.Err)
	case o.Job.Status == migration.StatusDone:
		fmt.Printf("  #%d %s: %s\n", o.ID, o.Job.Name, statusLabel(o.Job.Status))
	default:
		fmt.Printf("  #%d %s: %s (qntx-migrate show %d)\n", o.ID, o.Job.Name, statusLabel(o.Job.Status), o.ID)
	}
}

func runCancel(cmd *cobra.Command, args []string) error {
	return runBatch(args, "Cancelled", func(svc *migration.Service, ids []int64) migration.BatchResultOf {
		return svc.BatchCancel(context.Background(), ids)
	})
}

func runRequeue(cmd *cobra.Command, args []string) error {
	return runBatch(args, "Requeued", func(svc *migration.Service, ids []int64) migration.BatchResultOf {
		return svc.BatchRequeue(context.Background(), ids)
	})
}

func runBatch(args []string, verb string, op func(*migration.Service, []int64) migration.BatchResultOf) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result := op(a.service, ids)

	failed := make([]int64, 0, len(result.Failures))
	for id := range result.Failures {
		failed = append(failed, id)
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	for _, id := range failed {
		fmt.Printf("  #%d: %v\n", id, result.Failures[id])
	}

	fmt.Printf("%s %s %d of %d migration(s)\n", sym.Migrate, verb, result.Succeeded, result.Total)
	return result.Err()
}

func runReschedule(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args[:1])
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	utc, _ := cmd.Flags().GetBool("utc")
	fireAt, err := a.normalizer.ParseLocal(args[1], utc)
	if err != nil {
		return err
	}

	job, err := a.service.Reschedule(context.Background(), ids[0], fireAt)
	if err != nil {
		return err
	}

	fmt.Printf("%s Migration #%d %q queued for %s (%s UTC)\n", sym.AT, job.ID, job.Name,
		localTime(a.normalizer, job.ScheduledAt), job.ScheduledAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Pulse registration: %s\n", job.SchedulerHandle.Short())
	return nil
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.cfg.Migration.RunAtUpgrade {
		fmt.Printf("%s At-upgrade migrations disabled (migration.run_at_upgrade = false)\n", sym.Upgrade)
		return nil
	}

	report := a.service.OnUpgrade(context.Background())
	if report.Err != nil {
		logger.Logger.Errorw("Upgrade pass could not list migrations", logger.FieldError, report.Err)
		fmt.Printf("%s Upgrade pass skipped: %v\n", sym.Upgrade, report.Err)
		return nil
	}

	for _, o := range report.Outcomes {
		printOutcome(o)
	}
	fmt.Printf("%s Upgrade: %d total, %d succeeded, %d failed, %d skipped\n",
		sym.Upgrade, report.Total, report.Succeeded, report.Failed, report.Skipped)
	return nil
}

func runRecover(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	released, err := a.scheduler.RecoverStale(ctx)
	if err != nil {
		return err
	}
	recovered, err := a.service.RecoverInterrupted(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%s Recovered %d interrupted migration(s), released %d registration(s)\n",
		sym.Migrate, recovered, released)
	return nil
}

func init() {
	RescheduleCmd.Flags().Bool("utc", false, "Interpret the time as UTC instead of migration.timezone")
}
