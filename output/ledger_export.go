package output

import (
	"strconv"
	"time"

	"timebill/ledger"
)

func LedgerTable(entries []ledger.Entry) Table {
	table := Table{
		Name: "Ledger",
		Headers: []string{
			"SourceEntryID", "Status", "DestinationLineItemID", "IdempotencyToken",
			"Attempts", "RunID", "Reason", "SubmittedAt", "UpdatedAt",
		},
		Rows: make([][]string, 0, len(entries)),
	}
	for _, entry := range entries {
		table.Rows = append(table.Rows, []string{
			entry.SourceEntryID,
			string(entry.Status),
			entry.DestinationLineItemID,
			entry.IdempotencyToken,
			strconv.Itoa(entry.Attempts),
			entry.RunID,
			entry.Reason,
			formatOptionalTime(entry.SubmittedAt),
			formatOptionalTime(entry.UpdatedAt),
		})
	}
	return table
}

func WriteLedger(path, format string, entries []ledger.Entry) error {
	writer, err := WriterForFormat(format)
	if err != nil {
		return err
	}
	return writer.Write(path, LedgerTable(entries))
}

func formatOptionalTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
