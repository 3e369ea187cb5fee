package source

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"timebill/worklog"
)

// Column aliases accepted for the time-tracking export.
var (
	colID          = []string{"TimeEntryID", "id"}
	colStart       = []string{"StartDate", "date", "start"}
	colDuration    = []string{"Duration"}
	colBillable    = []string{"Billable"}
	colProjectID   = []string{"ActivityID"}
	colProject     = []string{"Activity", "project"}
	colFolderID    = []string{"FolderId"}
	colFolder      = []string{"Folder"}
	colService     = []string{"service", "tags", "tag"}
	colDescription = []string{"Note", "description"}
)

var requiredColumns = [][]string{colID, colStart, colDuration}

var startLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02.01.2006 15:04",
	"2006-01-02",
}

func missingColumns(headers []string) []string {
	present := make(map[string]struct{}, len(headers))
	for _, header := range headers {
		present[header] = struct{}{}
	}

	missing := make([]string, 0)
	for _, aliases := range requiredColumns {
		found := false
		for _, alias := range aliases {
			if _, ok := present[normalizeHeader(alias)]; ok {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, aliases[0])
		}
	}
	return missing
}

// entryFromRecord maps one export row. The returned error text becomes the
// parse error reason.
func entryFromRecord(record Record, unit, sourceKind string) (worklog.TimeEntry, error) {
	id := record.Get(colID...)
	if id == "" {
		return worklog.TimeEntry{}, fmt.Errorf("missing TimeEntryID")
	}

	start, err := parseStart(record.Get(colStart...))
	if err != nil {
		return worklog.TimeEntry{}, err
	}

	duration, err := parseDuration(record.Get(colDuration...), unit)
	if err != nil {
		return worklog.TimeEntry{}, err
	}

	project := record.Get(colProject...)
	folder := record.Get(colFolder...)
	if project == "" {
		project = folder
	}

	return worklog.TimeEntry{
		ID:          id,
		Start:       start,
		End:         start.Add(duration),
		Duration:    duration,
		Project:     project,
		ProjectID:   record.Get(colProjectID...),
		Folder:      folder,
		FolderID:    record.Get(colFolderID...),
		Service:     record.Get(colService...),
		Description: record.Get(colDescription...),
		Billable:    parseBillable(record.Get(colBillable...)),
		Source:      sourceKind,
	}, nil
}

func parseStart(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("missing StartDate")
	}

	for _, layout := range startLayouts {
		if parsed, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported StartDate format: %q", value)
}

// parseDuration reads a non-negative number in the configured unit. A comma
// decimal separator is accepted.
func parseDuration(raw, unit string) (time.Duration, error) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return 0, fmt.Errorf("missing Duration")
	}
	cleaned = strings.ReplaceAll(cleaned, ",", ".")

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("invalid Duration %q", raw)
	}
	if value < 0 {
		return 0, fmt.Errorf("Duration must not be negative")
	}

	var scale time.Duration
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "", "seconds":
		scale = time.Second
	case "minutes":
		scale = time.Minute
	case "hours":
		scale = time.Hour
	default:
		return 0, fmt.Errorf("unsupported duration unit %q", unit)
	}
	nanos := math.Round(value * float64(scale))
	if math.IsInf(nanos, 0) || nanos >= math.MaxInt64 {
		return 0, fmt.Errorf("invalid Duration %q: out of range", raw)
	}
	return time.Duration(nanos), nil
}

func parseBillable(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "yes", "true", "y", "1", "billable":
		return true
	default:
		return false
	}
}
