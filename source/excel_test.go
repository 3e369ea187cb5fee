package source

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

func TestExcelConnector_ReadsFirstSheet(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "entries.xlsx")
	file := excelize.NewFile()
	sheet := file.GetSheetName(0)
	rows := [][]any{
		{"TimeEntryID", "StartDate", "Duration", "Billable", "ActivityID", "Activity", "FolderId", "Folder", "service", "Note"},
		{"x1", "2026-03-02 09:00", "1800", "yes", "7", "Acme", "f1", "Acme", "Design", "Kickoff"},
		{"x2", "garbage", "1800", "yes", "7", "Acme", "f1", "Acme", "Design", "Broken"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := file.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	if err := file.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	_ = file.Close()

	entries, report, err := Collect(context.Background(), &ExcelConnector{Path: path})
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "x1" || entries[0].Duration != 30*time.Minute {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if len(report) != 1 || report[0].Row != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if entries[0].Source != "excel" {
		t.Fatalf("unexpected source: %q", entries[0].Source)
	}
}
