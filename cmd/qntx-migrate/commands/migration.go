package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/qntx-migrate/migration"
	"github.com/teranos/qntx-migrate/sym"
)

// CreateCmd defines a new migration
var CreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: sym.Migrate + " Define a migration",
	Long: sym.Migrate + ` Define a one-shot migration.

The migration starts queued. With --method at_upgrade (the default) it runs the next
time "qntx-migrate upgrade" is invoked. With --method timer it is registered with the
Pulse scheduler and runs at --at, interpreted in migration.timezone unless --utc is set.
Passing --at alone implies --method timer.

Examples:
  qntx-migrate create "compact" --model sqlite --function vacuum
  qntx-migrate create "stats" -m sqlite -f analyze --at "2026-11-01 03:00:00"
  qntx-migrate create "stats" -m sqlite -f analyze --at "2026-11-01 02:00" --utc`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

// UpdateCmd edits a migration definition
var UpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: sym.Migrate + " Edit a migration definition",
	Long: sym.Migrate + ` Edit the definition of a migration. Only the flags given are changed.
Status cannot be edited: use run, cancel, requeue or reschedule.

Examples:
  qntx-migrate update 4 --description "weekly compaction"
  qntx-migrate update 4 --at "2026-12-01 03:00:00"
  qntx-migrate update 4 --method at_upgrade`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

// LoadCmd creates migrations from a manifest file
var LoadCmd = &cobra.Command{
	Use:   "load <manifest.toml>",
	Short: sym.Migrate + " Create migrations from a manifest",
	Long: sym.Migrate + ` Create the migrations listed in a TOML manifest. Entries whose name
already exists are skipped, so a manifest can be loaded on every deploy.

  [[migration]]
  name = "compact"
  model = "sqlite"
  function = "vacuum"
  running_method = "timer"          # or "at_upgrade" (default)
  scheduled_at = "2026-11-01 03:00:00"
  already_utc = false               # interpret scheduled_at in migration.timezone`,
	Args: cobra.ExactArgs(1),
	RunE: runLoad,
}

// LsCmd lists migrations
var LsCmd = &cobra.Command{
	Use:   "ls",
	Short: sym.Migrate + " List migrations",
	Long: sym.Migrate + ` List migrations in creation order. Times are shown in migration.timezone.

Examples:
  qntx-migrate ls
  qntx-migrate ls --status failed
  qntx-migrate ls --method timer --format json`,
	RunE: runLs,
}

// ShowCmd displays one migration
var ShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: sym.Migrate + " Show a migration and its last diagnostic",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var (
	lsFormat   string
	showFormat string
)

func init() {
	for _, c := range []*cobra.Command{CreateCmd, UpdateCmd} {
		c.Flags().StringP("model", "m", "", "Target model")
		c.Flags().StringP("function", "f", "", "Target function on the model")
		c.Flags().StringP("description", "d", "", "Free-form description")
		c.Flags().String("method", string(migration.RunAtUpgrade), "Running method: at_upgrade, timer")
		c.Flags().String("at", "", "Scheduled time (2006-01-02 15:04:05) for timer migrations")
		c.Flags().Bool("utc", false, "Interpret --at as UTC instead of migration.timezone")
	}
	UpdateCmd.Flags().String("name", "", "New name")
	UpdateCmd.Flags().Bool("clear-schedule", false, "Remove the scheduled time")

	LsCmd.Flags().String("status", "", "Filter by status: queued, running, done, failed, cancelled")
	LsCmd.Flags().String("method", "", "Filter by running method: at_upgrade, timer")
	LsCmd.Flags().String("name", "", "Filter by name substring")
	LsCmd.Flags().Int("limit", 0, "Maximum number of migrations (0 = all)")
	LsCmd.Flags().StringVar(&lsFormat, "format", "table", "Output format: table, json, yaml")

	ShowCmd.Flags().StringVar(&showFormat, "format", "text", "Output format: text, json, yaml")
}

func runCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	req := migration.CreateRequest{Name: args[0]}
	req.TargetModel, _ = cmd.Flags().GetString("model")
	req.TargetFunction, _ = cmd.Flags().GetString("function")
	req.Description, _ = cmd.Flags().GetString("description")

	method, _ := cmd.Flags().GetString("method")
	req.RunningMethod, err = migration.ParseRunningMethod(method)
	if err != nil {
		return err
	}

	if at, _ := cmd.Flags().GetString("at"); at != "" {
		utc, _ := cmd.Flags().GetBool("utc")
		fireAt, err := a.normalizer.ParseLocal(at, utc)
		if err != nil {
			return err
		}
		req.ScheduledAt = &fireAt
		req.AlreadyUTC = true
		if !cmd.Flags().Changed("method") {
			req.RunningMethod = migration.RunTimer
		}
	}

	job, err := a.service.Create(context.Background(), req)
	if err != nil {
		return err
	}

	fmt.Printf("%s Created migration #%d %q (%s)\n", sym.Migrate, job.ID, job.Name, job.Target())
	if job.IsTimer() {
		fmt.Printf("  Runs at: %s (%s UTC)\n", localTime(a.normalizer, job.ScheduledAt), job.ScheduledAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("  Pulse registration: %s\n", job.SchedulerHandle.Short())
	} else {
		fmt.Printf("  Runs at next upgrade\n")
	}
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var req migration.UpdateRequest
	flags := cmd.Flags()
	for flag, dst := range map[string]**string{
		"name":        &req.Name,
		"description": &req.Description,
		"model":       &req.TargetModel,
		"function":    &req.TargetFunction,
	} {
		if flags.Changed(flag) {
			v, _ := flags.GetString(flag)
			*dst = &v
		}
	}

	if flags.Changed("method") {
		raw, _ := flags.GetString("method")
		method, err := migration.ParseRunningMethod(raw)
		if err != nil {
			return err
		}
		req.RunningMethod = &method
	}
	if flags.Changed("at") {
		raw, _ := flags.GetString("at")
		utc, _ := flags.GetBool("utc")
		fireAt, err := a.normalizer.ParseLocal(raw, utc)
		if err != nil {
			return err
		}
		req.ScheduledAt = &fireAt
		req.AlreadyUTC = true
	}
	req.ClearSchedule, _ = flags.GetBool("clear-schedule")

	job, err := a.service.Update(context.Background(), ids[0], req)
	if err != nil {
		return err
	}
	fmt.Printf("%s Updated migration #%d %q\n", sym.Migrate, job.ID, job.Name)
	return nil
}

func runLoad(cmd *cobra.Command, args []string) error {
	manifest, err := migration.LoadManifest(args[0])
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.service.Apply(context.Background(), manifest)
	for _, job := range report.Created {
		fmt.Printf("%s Created #%d %s (%s)\n", sym.Migrate, job.ID, job.Name, job.RunningMethod)
	}
	for _, name := range report.Skipped {
		fmt.Printf("  Skipped %s (already defined)\n", name)
	}
	if err != nil {
		return err
	}
	fmt.Printf("\nLoaded %s: %d created, %d skipped\n", args[0], len(report.Created), len(report.Skipped))
	return nil
}

func runLs(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var filter migration.ListFilter
	if raw, _ := cmd.Flags().GetString("status"); raw != "" {
		if filter.Status, err = migration.ParseStatus(raw); err != nil {
			return err
		}
	}
	if raw, _ := cmd.Flags().GetString("method"); raw != "" {
		if filter.RunningMethod, err = migration.ParseRunningMethod(raw); err != nil {
			return err
		}
	}
	filter.Name, _ = cmd.Flags().GetString("name")
	filter.Limit, _ = cmd.Flags().GetInt("limit")

	jobs, err := a.service.List(context.Background(), filter)
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}

	if lsFormat != "table" {
		return printFormatted(lsFormat, jobs)
	}

	if len(jobs) == 0 {
		fmt.Printf("%s No migrations found\n", sym.Migrate)
		return nil
	}

	data := pterm.TableData{{"ID", "NAME", "TARGET", "STATUS", "METHOD", "SCHEDULED", "LAST RUN"}}
	for _, job := range jobs {
		data = append(data, []string{
			fmt.Sprint(job.ID),
			truncate(job.Name, 32),
			truncate(job.Target(), 32),
			statusLabel(job.Status),
			string(job.RunningMethod),
			localTime(a.normalizer, job.ScheduledAt),
			localTime(a.normalizer, job.LastRunAt),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}

	tz := a.normalizer.Timezone()
	fmt.Printf("\nTotal: %d migration(s), times in %s\n", len(jobs), tz)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.service.Get(context.Background(), ids[0])
	if err != nil {
		return err
	}

	if showFormat != "text" {
		return printFormatted(showFormat, job)
	}

	fmt.Printf("%s Migration #%d: %s\n", sym.Migrate, job.ID, job.Name)
	if job.Description != "" {
		fmt.Printf("  %s\n", job.Description)
	}
	fmt.Printf("\n")
	fmt.Printf("Target:    %s\n", job.Target())
	fmt.Printf("Status:    %s\n", statusLabel(job.Status))
	fmt.Printf("Method:    %s\n", job.RunningMethod)
	if job.ScheduledAt != nil {
		fmt.Printf("Scheduled: %s\n", localTime(a.normalizer, job.ScheduledAt))
	}
	if job.HasHandle() {
		fmt.Printf("Pulse:     %s\n", job.SchedulerHandle)
	}
	fmt.Printf("Last run:  %s\n", localTime(a.normalizer, job.LastRunAt))
	fmt.Printf("Created:   %s\n", a.normalizer.Render(job.CreatedAt))
	fmt.Printf("Updated:   %s\n", a.normalizer.Render(job.UpdatedAt))

	if job.ErrorDetail != "" {
		fmt.Printf("\nLast failure:\n")
		for _, line := range strings.Split(strings.TrimRight(job.ErrorDetail, "\n"), "\n") {
			fmt.Printf("  %s\n", line)
		}
	}
	return nil
}

func statusLabel(s migration.Status) string {
	switch s {
	case migration.StatusDone:
		return pterm.Green(s)
	case migration.StatusFailed:
		return pterm.Red(s)
	case migration.StatusRunning:
		return pterm.Yellow(s)
	case migration.StatusCancelled:
		return pterm.Gray(s)
	default:
		return string(s)
	}
}
