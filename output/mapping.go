package output

import (
	"strconv"

	"timebill/freshbooks"
)

// MappingRow is one label of the source with the FreshBooks record it maps to.
type MappingRow struct {
	Kind    string
	Entries int
	Mapping freshbooks.Mapping
}

func MappingTable(name string, rows []MappingRow) Table {
	table := Table{
		Name:    name,
		Headers: []string{"Kind", "Label", "Entries", "FreshBooksID", "FreshBooksName", "MatchType", "Score"},
		Rows:    make([][]string, 0, len(rows)),
	}
	for _, row := range rows {
		score := ""
		if row.Mapping.Type == freshbooks.MatchFuzzy || row.Mapping.Type == freshbooks.MatchExact {
			score = strconv.FormatFloat(row.Mapping.Score, 'f', 2, 64)
		}
		table.Rows = append(table.Rows, []string{
			row.Kind,
			row.Mapping.Input,
			strconv.Itoa(row.Entries),
			row.Mapping.ID,
			row.Mapping.Name,
			row.Mapping.Type,
			score,
		})
	}
	return table
}

// WriteMappings writes client mappings and service mappings as two tables.
func WriteMappings(path, format string, clients, services []MappingRow) error {
	writer, err := WriterForFormat(format)
	if err != nil {
		return err
	}
	return writer.Write(path, MappingTable("Clients", clients), MappingTable("Services", services))
}
