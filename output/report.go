package output

import (
	"strconv"

	"timebill/transform"
)

// GroupTable renders priced groups followed by a grand total row.
func GroupTable(name string, groups []transform.Group) Table {
	table := Table{
		Name:    name,
		Headers: []string{"Group", "Entries", "Hours", "Amount", "Currency"},
		Rows:    make([][]string, 0, len(groups)+1),
	}
	for _, group := range groups {
		table.Rows = append(table.Rows, groupRow(group.Key, group))
	}
	table.Rows = append(table.Rows, groupRow("Total", transform.Totals(groups)))
	return table
}

func groupRow(label string, group transform.Group) []string {
	return []string{
		label,
		strconv.Itoa(group.Items),
		group.Quantity.StringFixed(2),
		group.Amount.StringFixed(2),
		group.Currency,
	}
}

// Report bundles the priced totals with the per-day time overview.
type Report struct {
	Groups []transform.Group
	By     transform.GroupBy
	Days   []DailySummary
}

func (r Report) Tables() []Table {
	name := "Projects"
	if r.By == transform.GroupByDay {
		name = "Days"
	}
	return []Table{GroupTable(name, r.Groups), DailySummaryTable(r.Days)}
}

func WriteReport(path, format string, report Report) error {
	writer, err := WriterForFormat(format)
	if err != nil {
		return err
	}
	return writer.Write(path, report.Tables()...)
}
