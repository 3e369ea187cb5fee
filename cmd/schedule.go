package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"timebill/config"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	scheduleEvery    time.Duration
	scheduleCron     string
	scheduleSource   string
	scheduleInput    string
	scheduleDaysBack int
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run sync periodically until interrupted",
	Long: `Run "sync --yes" on a fixed interval or cron schedule until the process is interrupted.

Runs never overlap: when a sync is still running at the next tick, that tick is skipped.
The config file is read again before every run.`,
	Example: `
  # Sync the last 2 days from Timeular every hour
  timebill schedule --every 1h --source timeular --days-back 2

  # Sync at minute 5 of every hour
  timebill schedule --cron "5 * * * *" --source timeular
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAndValidate()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		scheduler := gocron.NewScheduler(time.Local)
		scheduler.SingletonModeAll()

		job, err := scheduleJob(scheduler, scheduleEvery, scheduleCron, func() {
			runScheduledSync(ctx, logger)
		})
		if err != nil {
			return err
		}

		scheduler.StartAsync()
		logger.Info().Time("next_run", job.NextRun()).Msg("scheduler started")
		fmt.Fprintln(out, "Scheduler running. Press Ctrl+C to stop.")

		<-ctx.Done()
		scheduler.Stop()
		fmt.Fprintln(out, "Scheduler stopped.")
		return nil
	},
}

// scheduleJob registers task with exactly one of every or cronExpr.
func scheduleJob(scheduler *gocron.Scheduler, every time.Duration, cronExpr string, task func()) (*gocron.Job, error) {
	cronExpr = strings.TrimSpace(cronExpr)
	switch {
	case every > 0 && cronExpr != "":
		return nil, errors.New("use either --every or --cron, not both")
	case every > 0:
		if every < time.Minute {
			return nil, fmt.Errorf("--every must be at least 1m, got %s", every)
		}
		return scheduler.Every(every).Do(task)
	case cronExpr != "":
		job, err := scheduler.Cron(cronExpr).Do(task)
		if err != nil {
			return nil, fmt.Errorf("invalid --cron expression %q: %w", cronExpr, err)
		}
		return job, nil
	default:
		return nil, errors.New("one of --every or --cron is required")
	}
}

func runScheduledSync(ctx context.Context, logger zerolog.Logger) {
	if ctx.Err() != nil {
		return
	}
	cfg, err := config.LoadAndValidate()
	if err != nil {
		logger.Error().Err(err).Msg("scheduled sync: load config")
		return
	}
	sel := sourceSelection{
		Kind:     scheduleSource,
		Path:     scheduleInput,
		DaysBack: scheduleDaysBack,
	}.withConfig(cfg.Source)

	started := time.Now()
	result, err := runSync(ctx, cfg, sel, syncRunOptions{
		Reader: bufio.NewReader(strings.NewReader("")),
		Out:    os.Stdout,
		Logger: logger,
	})
	switch {
	case err != nil:
		logger.Error().Err(err).Msg("scheduled sync failed")
	case result != nil:
		logger.Warn().Err(result).Int("exit_code", result.code).Dur("took", time.Since(started)).Msg("scheduled sync incomplete")
	default:
		logger.Info().Dur("took", time.Since(started)).Msg("scheduled sync finished")
	}
}

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().DurationVar(&scheduleEvery, "every", 0, "Run interval, e.g. 1h or 30m")
	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "", "Cron expression (5 fields), e.g. \"0 * * * *\"")
	scheduleCmd.Flags().StringVar(&scheduleSource, "source", "", "Source kind: timeular, csv or excel (default: source.kind, or inferred from --input)")
	scheduleCmd.Flags().StringVarP(&scheduleInput, "input", "i", "", "CSV or Excel export to read on every run")
	scheduleCmd.Flags().IntVar(&scheduleDaysBack, "days-back", 0, "Days to look back on every run (default: source.days_back)")
}
