package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"timebill/config"
	"timebill/ledger"

	"github.com/spf13/cobra"
)

var (
	ledgerPath        string
	ledgerListStatus  string
	ledgerListLimit   int
	ledgerListHistory string
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect, export and reconcile the sync ledger.",
	Long: `The ledger is the local SQLite database that records which source entries were
submitted to FreshBooks and under which FreshBooks id.

Statuses:
- pending: a run claimed the entry and may be submitting it
- submitted: FreshBooks accepted the entry; it is never sent again
- failed: the last attempt failed; the next sync reconciles and retries it`,
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger entries.",
	Example: `
  # List all ledger entries
  timebill ledger list

  # List failed entries only
  timebill ledger list --status failed

  # Show the history of one entry
  timebill ledger list --history 8a1b2c
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLedger()
		if err != nil {
			return err
		}
		defer l.Close()

		out := cmd.OutOrStdout()
		if id := strings.TrimSpace(ledgerListHistory); id != "" {
			events, err := l.Events(cmd.Context(), id)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				return fmt.Errorf("no ledger history for entry %q", id)
			}
			printLedgerEvents(out, events)
			return nil
		}

		status, err := parseLedgerStatus(ledgerListStatus)
		if err != nil {
			return err
		}
		entries, err := l.List(cmd.Context(), ledger.Filter{Status: status, Limit: ledgerListLimit})
		if err != nil {
			return err
		}
		printLedgerEntries(out, entries)
		return nil
	},
}

// openLedger opens the ledger from --ledger or sync.ledger_path.
func openLedger() (*ledger.Ledger, error) {
	path := strings.TrimSpace(ledgerPath)
	if path == "" {
		cfg, err := config.LoadAndValidate()
		if err != nil {
			return nil, err
		}
		path = cfg.Sync.LedgerPath
	}
	return ledger.Open(path)
}

func parseLedgerStatus(value string) (ledger.Status, error) {
	switch status := ledger.Status(strings.ToLower(strings.TrimSpace(value))); status {
	case "", ledger.StatusPending, ledger.StatusSubmitted, ledger.StatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("unsupported status %q (valid: pending, submitted, failed)", value)
	}
}

func printLedgerEntries(out io.Writer, entries []ledger.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No ledger entries.")
		return
	}
	counts := make(map[ledger.Status]int, 3)
	for _, entry := range entries {
		counts[entry.Status]++
		line := fmt.Sprintf(
			"%-24s %-9s %-12s attempts=%d updated=%s",
			entry.SourceEntryID,
			entry.Status,
			valueOrDash(entry.DestinationLineItemID),
			entry.Attempts,
			entry.UpdatedAt.Local().Format(time.DateTime),
		)
		if entry.Reason != "" {
			line += " reason=" + entry.Reason
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(
		out,
		"Entries: %d (submitted: %d, pending: %d, failed: %d)\n",
		len(entries),
		counts[ledger.StatusSubmitted],
		counts[ledger.StatusPending],
		counts[ledger.StatusFailed],
	)
}

func printLedgerEvents(out io.Writer, events []ledger.Event) {
	for _, event := range events {
		line := fmt.Sprintf(
			"%s %-9s run=%s",
			event.CreatedAt.Local().Format(time.DateTime),
			event.Status,
			valueOrDash(event.RunID),
		)
		if event.DestinationLineItemID != "" {
			line += " destination=" + event.DestinationLineItemID
		}
		if event.Reason != "" {
			line += " reason=" + event.Reason
		}
		fmt.Fprintln(out, line)
	}
}

func valueOrDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerListCmd)

	ledgerCmd.PersistentFlags().StringVar(&ledgerPath, "ledger", "", "Path to the SQLite ledger (default: sync.ledger_path)")
	ledgerListCmd.Flags().StringVar(&ledgerListStatus, "status", "", "Filter by status: pending|submitted|failed")
	ledgerListCmd.Flags().IntVar(&ledgerListLimit, "limit", 0, "Maximum number of entries (0 = all)")
	ledgerListCmd.Flags().StringVar(&ledgerListHistory, "history", "", "Show the event history of one source entry id")
}
