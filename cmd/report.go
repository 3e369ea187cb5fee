package cmd

import (
	"fmt"
	"strings"
	"time"

	"timebill/config"
	"timebill/output"
	"timebill/pipeline"
	"timebill/source"
	"timebill/transform"

	"github.com/spf13/cobra"
)

var (
	reportSource   string
	reportInput    string
	reportFromDay  string
	reportToDay    string
	reportDaysBack int
	reportGroup    string
	reportFormat   string
	reportOutput   string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write a billing summary report to CSV/Excel",
	Long: `Build a summary report from the source without submitting anything.

The report has one table with hours and amounts per project (or per day with
--group day) followed by a grand total, and one table with per-day start/end,
worked, billable and break hours.

Output format can be selected explicitly via --format or inferred from --output extension.`,
	Example: `
  # Project totals of a CSV export as Excel
  timebill report --input ./export.csv --output ./report.xlsx

  # Daily totals of the last 14 days from Timeular
  timebill report --source timeular --days-back 14 --group day --output ./report.csv
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

		by := transform.GroupBy(strings.ToLower(strings.TrimSpace(reportGroup)))
		format := reportFormat
		if strings.TrimSpace(format) == "" {
			detected, err := output.FormatForPath(reportOutput)
			if err != nil {
				return err
			}
			format = detected
		}

		sel := sourceSelection{
			Kind:     reportSource,
			Path:     reportInput,
			From:     reportFromDay,
			To:       reportToDay,
			DaysBack: reportDaysBack,
			RangeSet: cmd.Flags().Changed("from") || cmd.Flags().Changed("to") || cmd.Flags().Changed("days-back"),
		}.withConfig(cfg.Source)
		kind, err := sel.resolvedKind()
		if err != nil {
			return err
		}
		deps, _, err := newSourceDeps(cfg, kind, logger)
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

		entries, parseErrors, err := source.Collect(cmd.Context(), connector)
		if err != nil {
			return fmt.Errorf("fetch entries: %w", err)
		}
		items, failures := pipeline.Plan(entries, rates, rounding)
		groups, err := transform.GroupItems(items, by)
		if err != nil {
			return err
		}

		report := output.Report{
			Groups: groups,
			By:     by,
			Days:   output.BuildDailySummaries(entries),
		}
		if err := output.WriteReport(reportOutput, format, report); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		total := transform.Totals(groups)
		fmt.Fprintf(
			out,
			"Report completed. Entries: %d, Hours: %s, Amount: %s %s, Format: %s, File: %s\n",
			total.Items,
			total.Quantity.StringFixed(2),
			total.Amount.StringFixed(2),
			total.Currency,
			format,
			reportOutput,
		)
		for _, failure := range failures {
			fmt.Fprintf(out, "  Not included %s: %s\n", failure.EntryID, failure.Reason)
		}
		for _, parseErr := range parseErrors {
			fmt.Fprintf(out, "  Malformed row %d: %s\n", parseErr.Row, parseErr.Reason)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportSource, "source", "", "Source kind: timeular, csv or excel (default: source.kind, or inferred from --input)")
	reportCmd.Flags().StringVarP(&reportInput, "input", "i", "", "CSV or Excel export to read")
	reportCmd.Flags().StringVar(&reportFromDay, "from", "", "First day (inclusive), format YYYY-MM-DD")
	reportCmd.Flags().StringVar(&reportToDay, "to", "", "Last day (inclusive), format YYYY-MM-DD")
	reportCmd.Flags().IntVar(&reportDaysBack, "days-back", 0, "Days to look back when --from is empty (default: source.days_back)")
	reportCmd.Flags().StringVar(&reportGroup, "group", string(transform.GroupByProject), "Grouping: project|day")
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "", "Output format: csv|excel (optional, inferred from output extension)")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Output file path")

	_ = reportCmd.MarkFlagRequired("output")
}
