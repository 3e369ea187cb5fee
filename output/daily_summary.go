package output

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"timebill/internal/timeutil"
	"timebill/worklog"
)

type DailySummary struct {
	Date          string
	StartDateTime time.Time
	EndDateTime   time.Time
	WorkedHours   float64
	BillableHours float64
	BreakHours    float64
	EntryCount    int
}

// BuildDailySummaries aggregates finished entries per local day. Running
// entries are ignored.
func BuildDailySummaries(entries []worklog.TimeEntry) []DailySummary {
	byDay := make(map[string][]worklog.TimeEntry)
	for _, entry := range entries {
		if entry.Running() {
			continue
		}
		day := entry.Start.In(time.Local).Format(timeutil.DayLayout)
		byDay[day] = append(byDay[day], entry)
	}
	if len(byDay) == 0 {
		return []DailySummary{}
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	summaries := make([]DailySummary, 0, len(days))
	for _, day := range days {
		dayEntries := byDay[day]
		summary := summarizeDay(day, dayEntries)
		summaries = append(summaries, summary)
	}

	return summaries
}

func summarizeDay(day string, entries []worklog.TimeEntry) DailySummary {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Start.Equal(entries[j].Start) {
			return entries[i].End.Before(entries[j].End)
		}
		return entries[i].Start.Before(entries[j].Start)
	})

	summary := DailySummary{
		Date:          day,
		StartDateTime: entries[0].Start,
		EndDateTime:   entries[len(entries)-1].End,
		EntryCount:    len(entries),
	}
	// The day ends with the last started entry, even if an earlier one ran longer.
	if summary.EndDateTime.Before(summary.StartDateTime) {
		summary.EndDateTime = summary.StartDateTime
	}
	var worked, billable time.Duration
	for _, entry := range entries {
		if entry.Duration <= 0 {
			continue
		}
		worked += entry.Duration
		if entry.Billable {
			billable += entry.Duration
		}
	}

	gaps := time.Duration(0)
	if covered := coveredUntil(entries, summary.EndDateTime); covered < summary.EndDateTime.Sub(summary.StartDateTime) {
		gaps = summary.EndDateTime.Sub(summary.StartDateTime) - covered
	}

	summary.WorkedHours = roundHours(worked.Hours())
	summary.BillableHours = roundHours(billable.Hours())
	summary.BreakHours = roundHours(gaps.Hours())
	return summary
}

// coveredUntil returns the time covered by the union of the entries, which
// must be sorted by start, clipped to the day end.
func coveredUntil(entries []worklog.TimeEntry, dayEnd time.Time) time.Duration {
	var covered time.Duration
	var runStart, runEnd time.Time
	for _, entry := range entries {
		end := entry.End
		if end.After(dayEnd) {
			end = dayEnd
		}
		if !end.After(entry.Start) {
			continue
		}
		if runEnd.IsZero() || entry.Start.After(runEnd) {
			covered += runEnd.Sub(runStart)
			runStart, runEnd = entry.Start, end
			continue
		}
		if end.After(runEnd) {
			runEnd = end
		}
	}
	return covered + runEnd.Sub(runStart)
}

func roundHours(value float64) float64 {
	return math.Round(value*100) / 100
}

// DailySummaryTable renders summaries with a closing total row.
func DailySummaryTable(summaries []DailySummary) Table {
	table := Table{
		Name:    "Daily",
		Headers: []string{"Date", "StartTime", "EndTime", "WorkedHours", "BillableHours", "BreakHours", "EntryCount"},
		Rows:    make([][]string, 0, len(summaries)+1),
	}

	var worked, billable float64
	count := 0
	for _, summary := range summaries {
		table.Rows = append(table.Rows, []string{
			summary.Date,
			summary.StartDateTime.Format("15:04"),
			summary.EndDateTime.Format("15:04"),
			fmt.Sprintf("%.2f", summary.WorkedHours),
			fmt.Sprintf("%.2f", summary.BillableHours),
			fmt.Sprintf("%.2f", summary.BreakHours),
			strconv.Itoa(summary.EntryCount),
		})
		worked += summary.WorkedHours
		billable += summary.BillableHours
		count += summary.EntryCount
	}
	table.Rows = append(table.Rows, []string{
		"Total", "", "",
		fmt.Sprintf("%.2f", roundHours(worked)),
		fmt.Sprintf("%.2f", roundHours(billable)),
		"",
		strconv.Itoa(count),
	})
	return table
}
