package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"timebill/config"
	"timebill/internal/metrics"
	"timebill/ledger"
	"timebill/pipeline"
	"timebill/source"
	"timebill/transform"
	"timebill/worklog"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Exit codes of sync. Zero means every entry was recorded or skipped.
const (
	exitEntriesFailed = 2
	exitRunAborted    = 3
	exitCancelled     = 130
)

var (
	syncSource      string
	syncInput       string
	syncFromDay     string
	syncToDay       string
	syncDaysBack    int
	syncDryRun      bool
	syncYes         bool
	syncWorkers     int
	syncLedgerPath  string
	syncMetricsFile string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Submit new time entries to FreshBooks",
	Long: `Fetch time entries from the selected source, price them with the configured rates,
and submit every entry that is not yet in the ledger as a FreshBooks time entry.

Each entry is submitted at most once. The ledger claims an entry before it is sent and
records the FreshBooks id afterwards. When a previous run was interrupted between the
two steps, the entry is looked up at FreshBooks before anything is sent again.

Unless --yes is given, the command shows the number of new entries with their total
hours and amount and asks for confirmation. In --dry-run mode nothing is submitted.

Exit codes: 0 all entries recorded or skipped, 2 entries failed or source rows were
malformed, 3 the run was aborted, 130 the run was interrupted.`,
	Example: `
  # Sync the last 30 days from Timeular
  timebill sync --source timeular

  # Sync a CSV export for March without confirmation
  timebill sync --input ./export.csv --from 2026-03-01 --to 2026-03-31 --yes

  # Show what would be submitted
  timebill sync --source timeular --days-back 7 --dry-run
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAndValidate()
		if err != nil {
			return err
		}
		applySyncOverrides(cmd, cfg)

		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}

		reader := bufio.NewReader(cmd.InOrStdin())
		out := cmd.OutOrStdout()

		sel := sourceSelection{
			Kind:     syncSource,
			Path:     syncInput,
			From:     syncFromDay,
			To:       syncToDay,
			DaysBack: syncDaysBack,
			RangeSet: cmd.Flags().Changed("from") || cmd.Flags().Changed("to") || cmd.Flags().Changed("days-back"),
		}.withConfig(cfg.Source)
		if strings.TrimSpace(sel.Kind) == "" && strings.TrimSpace(sel.Path) == "" {
			if syncYes {
				return errors.New("no source selected; pass --source or --input")
			}
			sel, err = promptSourceSelection(reader, out, sel)
			if err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := runSync(ctx, cfg, sel, syncRunOptions{
			DryRun:  syncDryRun,
			Confirm: !syncYes && !syncDryRun,
			Reader:  reader,
			Out:     out,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		if result != nil {
			return result
		}
		return nil
	},
}

type syncRunOptions struct {
	DryRun  bool
	Confirm bool
	Reader  *bufio.Reader
	Out     io.Writer
	Logger  zerolog.Logger
}

// runSync performs one sync and returns an *exitError describing a run that
// did not fully succeed. The second return value is for setup failures.
func runSync(ctx context.Context, cfg *config.Config, sel sourceSelection, opts syncRunOptions) (*exitError, error) {
	kind, err := sel.resolvedKind()
	if err != nil {
		return nil, err
	}
	if !opts.DryRun {
		if err := cfg.RequireFreshBooks(); err != nil {
			return nil, err
		}
	}

	rates, rounding, err := loadPricing(cfg)
	if err != nil {
		return nil, err
	}

	deps, store, err := newSourceDeps(cfg, kind, opts.Logger)
	if err != nil {
		return nil, err
	}

	connector, err := buildSource(sel, deps, time.Now())
	if err != nil {
		return nil, err
	}

	ledgerStore, err := ledger.Open(cfg.Sync.LedgerPath)
	if err != nil {
		return nil, err
	}
	defer ledgerStore.Close()

	entries, parseErrors, err := source.Collect(ctx, connector)
	if err != nil {
		return nil, fmt.Errorf("fetch entries: %w", err)
	}

	if opts.Confirm {
		fresh, err := unsubmittedEntries(ctx, ledgerStore, entries)
		if err != nil {
			return nil, err
		}
		items, failures := pipeline.Plan(fresh, rates, rounding)
		printSyncPlan(opts.Out, len(entries), items, failures, parseErrors)
		if len(fresh) == 0 {
			fmt.Fprintln(opts.Out, "Nothing to submit.")
			return nil, nil
		}
		ok, err := promptConfirm(opts.Reader, opts.Out, "Submit to FreshBooks?")
		if err != nil {
			return nil, err
		}
		if !ok {
			fmt.Fprintln(opts.Out, "Aborted. Nothing was submitted.")
			return nil, nil
		}
	}

	var destination pipeline.Destination
	if !opts.DryRun {
		client, err := newFreshBooksClient(cfg, store, opts.Logger)
		if err != nil {
			return nil, err
		}
		destination = client
	}

	recorder := metrics.New()
	summary, runErr := pipeline.Run(ctx, pipeline.Options{
		Source:         source.Replay{Entries: entries, ParseErrors: parseErrors},
		Rates:          rates,
		Rounding:       rounding,
		Destination:    destination,
		Ledger:         ledgerStore,
		Credentials:    store,
		Workers:        cfg.Sync.Workers,
		Retry:          newRetryPolicy(cfg.Sync),
		RequestTimeout: cfg.Sync.RequestTimeout,
		ClaimLease:     cfg.Sync.ClaimLease,
		Reconcile:      cfg.Sync.Reconcile,
		DryRun:         opts.DryRun,
		Metrics:        recorder,
		Logger:         opts.Logger,
	})

	printSyncSummary(opts.Out, summary)

	if path := strings.TrimSpace(cfg.Metrics.Textfile); path != "" {
		if err := recorder.WriteTextfile(path); err != nil {
			opts.Logger.Warn().Err(err).Str("path", path).Msg("write metrics textfile")
		}
	}

	return syncExit(summary, runErr), nil
}

func applySyncOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("workers") && syncWorkers > 0 {
		cfg.Sync.Workers = syncWorkers
	}
	if strings.TrimSpace(syncLedgerPath) != "" {
		cfg.Sync.LedgerPath = syncLedgerPath
	}
	if strings.TrimSpace(syncMetricsFile) != "" {
		cfg.Metrics.Textfile = syncMetricsFile
	}
}

func syncExit(summary pipeline.Summary, runErr error) *exitError {
	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		return &exitError{code: exitCancelled, err: fmt.Errorf("sync interrupted: %w", runErr)}
	case runErr != nil:
		return &exitError{code: exitRunAborted, err: fmt.Errorf("sync aborted: %w", runErr)}
	case summary.Cancelled > 0:
		return &exitError{code: exitCancelled, err: fmt.Errorf("sync interrupted: %d entries not processed", summary.Cancelled)}
	case !summary.OK():
		return &exitError{
			code: exitEntriesFailed,
			err:  fmt.Errorf("sync incomplete: %d entries failed, %d source rows malformed", summary.Failed, len(summary.ParseErrors)),
		}
	}
	return nil
}

type ledgerChecker interface {
	Has(ctx context.Context, id string) (bool, error)
}

func unsubmittedEntries(ctx context.Context, l ledgerChecker, entries []worklog.TimeEntry) ([]worklog.TimeEntry, error) {
	out := make([]worklog.TimeEntry, 0, len(entries))
	for _, entry := range entries {
		submitted, err := l.Has(ctx, entry.ID)
		if err != nil {
			return nil, err
		}
		if !submitted {
			out = append(out, entry)
		}
	}
	return out, nil
}

func promptSourceSelection(reader *bufio.Reader, out io.Writer, sel sourceSelection) (sourceSelection, error) {
	options := []string{
		"Timeular API",
		"CSV export",
		"Excel export",
	}
	idx, err := promptSelectIndex(reader, out, "Select source:", options)
	if err != nil {
		return sel, err
	}
	switch idx {
	case 0:
		sel.Kind = worklog.SourceTimeular
		return sel, nil
	case 1:
		sel.Kind = worklog.SourceCSV
	default:
		sel.Kind = worklog.SourceExcel
	}
	path, err := promptRequiredString(reader, out, "Input file")
	if err != nil {
		return sel, err
	}
	sel.Path = path
	return sel, nil
}

func printSyncPlan(out io.Writer, fetched int, items []transform.LineItem, failures []pipeline.Failure, parseErrors []source.ParseError) {
	groups, _ := transform.GroupItems(items, transform.GroupByProject)
	total := transform.Totals(groups)

	fmt.Fprintln(out, "Sync plan:")
	fmt.Fprintf(out, "  Entries fetched:        %d\n", fetched)
	fmt.Fprintf(out, "  New entries:            %d\n", len(items))
	fmt.Fprintf(out, "  Hours:                  %s\n", total.Quantity.StringFixed(2))
	fmt.Fprintf(out, "  Amount:                 %s %s\n", total.Amount.StringFixed(2), total.Currency)
	if len(failures) > 0 {
		fmt.Fprintf(out, "  Not billable (errors):  %d\n", len(failures))
		for _, failure := range failures {
			fmt.Fprintf(out, "    %s: %s\n", failure.EntryID, failure.Reason)
		}
	}
	if len(parseErrors) > 0 {
		fmt.Fprintf(out, "  Malformed rows:         %d\n", len(parseErrors))
	}
}

func printSyncSummary(out io.Writer, summary pipeline.Summary) {
	if summary.DryRun {
		fmt.Fprintln(out, "Dry-run: nothing was submitted.")
		for _, task := range summary.Tasks {
			if task.State != pipeline.StateCheckedAgainstLedger {
				continue
			}
			fmt.Fprintf(
				out,
				"  would submit %s  %s  %sh  %s %s  %s\n",
				task.Item.StartedAt.Local().Format("2006-01-02 15:04"),
				task.Entry.ID,
				task.Item.Quantity.StringFixed(2),
				task.Item.Amount.StringFixed(2),
				task.Item.Currency,
				task.Item.Project,
			)
		}
	}

	fmt.Fprintf(out, "Sync %s finished in %s.\n", summary.RunID, summary.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  Fetched:     %d\n", summary.Fetched)
	if summary.DryRun {
		fmt.Fprintf(out, "  Would submit: %d\n", summary.Pending)
	} else {
		fmt.Fprintf(out, "  Recorded:    %d (reconciled: %d)\n", summary.Recorded, summary.Reconciled)
	}
	fmt.Fprintf(out, "  Skipped:     %d\n", summary.Skipped)
	fmt.Fprintf(out, "  Failed:      %d\n", summary.Failed)
	if summary.Cancelled > 0 {
		fmt.Fprintf(out, "  Cancelled:   %d\n", summary.Cancelled)
	}
	for _, parseErr := range summary.ParseErrors {
		fmt.Fprintf(out, "  Malformed row %d: %s\n", parseErr.Row, parseErr.Reason)
	}
	for _, failure := range summary.Failures {
		fmt.Fprintf(out, "  Failed %s at %s (%s): %s\n", failure.EntryID, failure.Stage, failure.Kind, failure.Reason)
	}
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringVar(&syncSource, "source", "", "Source kind: timeular, csv or excel (default: source.kind, or inferred from --input)")
	syncCmd.Flags().StringVarP(&syncInput, "input", "i", "", "CSV or Excel export to read")
	syncCmd.Flags().StringVar(&syncFromDay, "from", "", "First day to sync (inclusive), format YYYY-MM-DD")
	syncCmd.Flags().StringVar(&syncToDay, "to", "", "Last day to sync (inclusive), format YYYY-MM-DD")
	syncCmd.Flags().IntVar(&syncDaysBack, "days-back", 0, "Days to look back when --from is empty (default: source.days_back)")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Transform and check the ledger without submitting")
	syncCmd.Flags().BoolVarP(&syncYes, "yes", "y", false, "Submit without confirmation")
	syncCmd.Flags().IntVar(&syncWorkers, "workers", 0, "Concurrent submissions (default: sync.workers)")
	syncCmd.Flags().StringVar(&syncLedgerPath, "ledger", "", "Path to the SQLite ledger (default: sync.ledger_path)")
	syncCmd.Flags().StringVar(&syncMetricsFile, "metrics-file", "", "Write Prometheus metrics in textfile format (default: metrics.textfile)")
}
