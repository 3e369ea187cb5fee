package output

import (
	"path/filepath"
	"testing"

	"timebill/freshbooks"

	"github.com/xuri/excelize/v2"
)

func TestMappingTable(t *testing.T) {
	t.Parallel()

	table := MappingTable("Clients", []MappingRow{
		{Kind: "activity", Entries: 3, Mapping: freshbooks.Mapping{Input: "Acme Website", ID: "2", Name: "Acme Corp", Type: freshbooks.MatchFuzzy, Score: 0.7}},
		{Kind: "activity", Entries: 1, Mapping: freshbooks.Mapping{Input: "Umbrella", Type: freshbooks.MatchNone}},
		{Kind: "rate rule", Entries: 2, Mapping: freshbooks.Mapping{Input: "Globex", ID: "42", Type: freshbooks.MatchConfigured}},
	})

	if len(table.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(table.Rows))
	}
	if got := table.Rows[0]; got[1] != "Acme Website" || got[2] != "3" || got[3] != "2" || got[5] != "fuzzy" || got[6] != "0.70" {
		t.Fatalf("unexpected fuzzy row: %v", got)
	}
	if got := table.Rows[1]; got[3] != "" || got[5] != "none" || got[6] != "" {
		t.Fatalf("unexpected unmatched row: %v", got)
	}
	if got := table.Rows[2]; got[0] != "rate rule" || got[5] != "configured" || got[6] != "" {
		t.Fatalf("unexpected configured row: %v", got)
	}
}

func TestWriteMappings_Excel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mappings.xlsx")
	clients := []MappingRow{{Kind: "activity", Entries: 1, Mapping: freshbooks.Mapping{Input: "Acme", ID: "2", Name: "Acme", Type: freshbooks.MatchExact, Score: 1}}}
	services := []MappingRow{{Kind: "tag", Entries: 4, Mapping: freshbooks.Mapping{Input: "design", ID: "10", Name: "Design", Type: freshbooks.MatchExact, Score: 1}}}
	if err := WriteMappings(path, "xlsx", clients, services); err != nil {
		t.Fatalf("WriteMappings returned error: %v", err)
	}

	file, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer file.Close()

	for sheet, want := range map[string]string{"Clients": "Acme", "Services": "design"} {
		rows, err := file.GetRows(sheet)
		if err != nil {
			t.Fatalf("read %s sheet: %v", sheet, err)
		}
		if len(rows) != 2 || rows[1][1] != want || rows[1][6] != "1.00" {
			t.Fatalf("unexpected %s rows: %v", sheet, rows)
		}
	}
}
