package worklog

import (
	"strings"
	"time"
)

const (
	SourceCSV      = "csv"
	SourceExcel    = "excel"
	SourceTimeular = "timeular"
)

// TimeEntry is the normalized time-tracking record shared by all source
// connectors. It is treated as immutable once fetched.
type TimeEntry struct {
	ID          string
	Start       time.Time
	End         time.Time
	Duration    time.Duration
	Project     string
	ProjectID   string
	Folder      string
	FolderID    string
	Service     string
	Description string
	Tags        []string
	Billable    bool
	Source      string
}

// Running reports whether the entry has no end yet.
func (e TimeEntry) Running() bool {
	return e.End.IsZero()
}

// Hours returns the raw, unrounded duration in hours.
func (e TimeEntry) Hours() float64 {
	return e.Duration.Hours()
}

// Label returns the project label with whitespace collapsed.
func (e TimeEntry) Label() string {
	return strings.Join(strings.Fields(e.Project), " ")
}
