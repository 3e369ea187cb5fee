package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"timebill/config"
	"timebill/ledger"
	"timebill/pipeline"

	"github.com/spf13/cobra"
)

var (
	ledgerReconcileSource   string
	ledgerReconcileInput    string
	ledgerReconcileFromDay  string
	ledgerReconcileToDay    string
	ledgerReconcileDaysBack int
)

var ledgerReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Look up pending and failed ledger entries at FreshBooks",
	Long: `Re-check pending and failed ledger entries against FreshBooks.

The source entries are read again to rebuild each line item and its idempotency token.
Every pending or failed entry is looked up at FreshBooks by the token marker in the
note; entries found there are recorded as submitted. Nothing is submitted.`,
	Example: `
  # Reconcile the last 30 days of Timeular entries
  timebill ledger reconcile --source timeular

  # Reconcile entries of a CSV export
  timebill ledger reconcile --input ./export.csv
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAndValidate()
		if err != nil {
			return err
		}
		if strings.TrimSpace(ledgerPath) != "" {
			cfg.Sync.LedgerPath = ledgerPath
		}
		if err := cfg.RequireFreshBooks(); err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}

		sel := sourceSelection{
			Kind:     ledgerReconcileSource,
			Path:     ledgerReconcileInput,
			From:     ledgerReconcileFromDay,
			To:       ledgerReconcileToDay,
			DaysBack: ledgerReconcileDaysBack,
			RangeSet: cmd.Flags().Changed("from") || cmd.Flags().Changed("to") || cmd.Flags().Changed("days-back"),
		}.withConfig(cfg.Source)
		kind, err := sel.resolvedKind()
		if err != nil {
			return err
		}

		deps, credentialStore, err := newSourceDeps(cfg, kind, logger)
		if err != nil {
			return err
		}

		connector, err := buildSource(sel, deps, time.Now())
		if err != nil {
			return err
		}
		rates, rounding, err := loadPricing(cfg)
		if err != nil {
			return err
		}
		client, err := newFreshBooksClient(cfg, credentialStore, logger)
		if err != nil {
			return err
		}
		l, err := ledger.Open(cfg.Sync.LedgerPath)
		if err != nil {
			return err
		}
		defer l.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := pipeline.Reconcile(ctx, pipeline.ReconcileOptions{
			Source:      connector,
			Rates:       rates,
			Rounding:    rounding,
			Destination: client,
			Ledger:      l,
			Logger:      logger,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(
			cmd.OutOrStdout(),
			"Reconcile completed. Checked: %d, Found at FreshBooks: %d, Missing: %d, Without rate: %d\n",
			result.Checked,
			result.Found,
			result.Missing,
			result.Unpriced,
		)
		return nil
	},
}

func init() {
	ledgerCmd.AddCommand(ledgerReconcileCmd)

	ledgerReconcileCmd.Flags().StringVar(&ledgerReconcileSource, "source", "", "Source kind: timeular, csv or excel (default: source.kind, or inferred from --input)")
	ledgerReconcileCmd.Flags().StringVarP(&ledgerReconcileInput, "input", "i", "", "CSV or Excel export to read")
	ledgerReconcileCmd.Flags().StringVar(&ledgerReconcileFromDay, "from", "", "First day (inclusive), format YYYY-MM-DD")
	ledgerReconcileCmd.Flags().StringVar(&ledgerReconcileToDay, "to", "", "Last day (inclusive), format YYYY-MM-DD")
	ledgerReconcileCmd.Flags().IntVar(&ledgerReconcileDaysBack, "days-back", 0, "Days to look back when --from is empty (default: source.days_back)")
}
