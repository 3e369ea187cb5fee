package cmd

import (
	"fmt"
	"strings"

	"timebill/ledger"
	"timebill/output"

	"github.com/spf13/cobra"
)

var (
	ledgerExportFormat string
	ledgerExportOutput string
	ledgerExportStatus string
)

var ledgerExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export ledger entries to CSV/Excel",
	Long: `Export ledger entries with status, FreshBooks id, idempotency token and timestamps.

Output format can be selected explicitly via --format or inferred from --output extension.`,
	Example: `
  # Export the ledger to CSV
  timebill ledger export --output ./ledger.csv

  # Export submitted entries to Excel
  timebill ledger export --status submitted --output ./ledger.xlsx
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format := ledgerExportFormat
		if strings.TrimSpace(format) == "" {
			detected, err := output.FormatForPath(ledgerExportOutput)
			if err != nil {
				return err
			}
			format = detected
		}
		status, err := parseLedgerStatus(ledgerExportStatus)
		if err != nil {
			return err
		}

		l, err := openLedger()
		if err != nil {
			return err
		}
		defer l.Close()

		entries, err := l.List(cmd.Context(), ledger.Filter{Status: status})
		if err != nil {
			return err
		}
		if err := output.WriteLedger(ledgerExportOutput, format, entries); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Export completed. Rows: %d, Format: %s, File: %s\n", len(entries), format, ledgerExportOutput)
		return nil
	},
}

func init() {
	ledgerCmd.AddCommand(ledgerExportCmd)

	ledgerExportCmd.Flags().StringVarP(&ledgerExportFormat, "format", "f", "", "Output format: csv|excel (optional, inferred from output extension)")
	ledgerExportCmd.Flags().StringVarP(&ledgerExportOutput, "output", "o", "", "Output file path")
	ledgerExportCmd.Flags().StringVar(&ledgerExportStatus, "status", "", "Filter by status: pending|submitted|failed")

	_ = ledgerExportCmd.MarkFlagRequired("output")
}
