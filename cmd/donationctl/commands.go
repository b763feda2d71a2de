package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"meauxbility_api/internal/app"
	"meauxbility_api/internal/config"
	"meauxbility_api/internal/models"
	"meauxbility_api/internal/tasks"
	"meauxbility_api/internal/telemetry"
)

// withApp loads config, builds the service graph and closes it after fn
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	logger, err := telemetry.NewLogger(cfg.AppEnv)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cfg, logger, nil)
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer a.Close(ctx)

	return fn(ctx, a)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(_ context.Context, a *app.App) error {
				if err := a.Migrate(); err != nil {
					return err
				}
				fmt.Println("Migrations applied")
				return nil
			})
		},
	}
}

func scheduleCmd() *cobra.Command {
	var (
		defaults   bool
		taskName   string
		argsStr    string
		dueStr     string
		recurring  string
		maxAttempt int
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule a worker task",
		Long: `Schedule a worker task. With --defaults the recurring sweep and
receipt backfill jobs are created if they are not already active.`,
		Example: `  donationctl schedule --defaults
  donationctl schedule --task backfill_receipts --args '{"limit":500}' --due "2026-01-02 15:04"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !defaults && taskName == "" {
				return errors.New("either --defaults or --task is required")
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				if defaults {
					return scheduleDefaults(ctx, a)
				}
				if _, ok := a.Tasks.Get(taskName); !ok {
					return fmt.Errorf("unknown task %q; known tasks: %v", taskName, a.Tasks.Names())
				}
				task, err := buildTask(taskName, argsStr, dueStr, recurring, maxAttempt)
				if err != nil {
					return err
				}
				if err := a.DB.WithContext(ctx).Create(task).Error; err != nil {
					return fmt.Errorf("failed to create task: %w", err)
				}
				fmt.Printf("Task scheduled with ID %d, due %s\n", task.ID, task.Due.Format(time.RFC3339))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&defaults, "defaults", false, "Schedule the default recurring donation jobs")
	cmd.Flags().StringVarP(&taskName, "task", "t", "", "Task name")
	cmd.Flags().StringVarP(&argsStr, "args", "a", "", "JSON object of task arguments")
	cmd.Flags().StringVarP(&dueStr, "due", "d", "", "Due time, RFC3339 or 2006-01-02 15:04 local (default now)")
	cmd.Flags().StringVarP(&recurring, "recurring", "r", "", "RRULE for a recurring task, e.g. FREQ=HOURLY;INTERVAL=1")
	cmd.Flags().IntVar(&maxAttempt, "max-attempt", 3, "Attempts per run")

	return cmd
}

func scheduleDefaults(ctx context.Context, a *app.App) error {
	defaults, err := tasks.DefaultSchedule(time.Now().UTC())
	if err != nil {
		return err
	}
	for _, task := range defaults {
		created, err := tasks.EnsureScheduled(ctx, a.DB, task)
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("Scheduled %s (%s)\n", task.TaskName, *task.RecurringInterval)
		} else {
			fmt.Printf("%s is already scheduled\n", task.TaskName)
		}
	}
	return nil
}

func buildTask(name, argsStr, dueStr, recurring string, maxAttempt int) (*models.ScheduledTask, error) {
	var args map[string]interface{}
	if argsStr != "" {
		if err := json.Unmarshal([]byte(argsStr), &args); err != nil {
			return nil, fmt.Errorf("invalid JSON arguments: %w", err)
		}
	}

	due, err := parseDue(dueStr)
	if err != nil {
		return nil, err
	}

	taskType := models.ScheduledTaskTypeOneTime
	var rule *string
	if recurring != "" {
		taskType = models.ScheduledTaskTypeRecurring
		rule = &recurring
	}
	return tasks.BuildScheduledTask(name, args, due, rule, taskType, maxAttempt)
}

func parseDue(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	if due, err := time.Parse(time.RFC3339, s); err == nil {
		return due.UTC(), nil
	}
	due, err := time.ParseInLocation("2006-01-02 15:04", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due time %q: use RFC3339 or 2006-01-02 15:04", s)
	}
	return due.UTC(), nil
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail or cancel attempts the gateway never resolved",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				res, err := a.Runner.RunTask(ctx, tasks.SweepStaleDonations, nil)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func backfillCmd() *cobra.Command {
	var (
		delay time.Duration
		limit int
	)
	cmd := &cobra.Command{
		Use:   "backfill-receipts",
		Short: "Send receipts for completed donations that never got one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				taskArgs := map[string]interface{}{"limit": limit}
				if delay > 0 {
					taskArgs["delay"] = delay.String()
				}
				res, err := a.Runner.RunTask(ctx, tasks.BackfillReceipts, taskArgs)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", 0, "Only attempts quiet for at least this long (default RECEIPT_BACKFILL_DELAY)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum receipts to send")
	return cmd
}

func showCmd() *cobra.Command {
	var byKey bool
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show one donation attempt by id or idempotency key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				var attempt *models.DonationAttempt
				var err error
				if byKey {
					attempt, err = a.Ledger.FindByIdempotencyKey(ctx, args[0])
				} else {
					attempt, err = a.Ledger.Get(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSON(attempt)
			})
		},
	}
	cmd.Flags().BoolVarP(&byKey, "key", "k", false, "Treat the argument as an idempotency key")
	return cmd
}
