// Package source fetches time entries from a tracking export or the Timeular
// API as a lazy sequence.
package source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"time"

	"timebill/internal/retry"
	"timebill/internal/syncerr"
	"timebill/internal/timeutil"
	"timebill/worklog"

	"github.com/rs/zerolog"
)

// Connector yields time entries. Each call to Fetch restarts from the
// beginning of the source. Malformed rows are yielded as parse errors and the
// sequence continues; any other error ends it.
type Connector interface {
	Fetch(ctx context.Context) iter.Seq2[worklog.TimeEntry, error]
}

type Options struct {
	Kind string
	Path string
	// DurationUnit applies to the Duration column of file exports.
	DurationUnit string
	// Window limits the entries by start time. For file sources a zero
	// window yields every row.
	Window timeutil.Window

	Timeular    EntriesClient
	Credentials TokenSource
	WindowSize  time.Duration
	Retry       retry.Policy
	Logger      zerolog.Logger
}

// New selects the connector for opts.Kind. An empty kind is inferred from the
// file extension of opts.Path.
func New(opts Options) (Connector, error) {
	kind := strings.ToLower(strings.TrimSpace(opts.Kind))
	if kind == "" {
		inferred, err := KindForPath(opts.Path)
		if err != nil {
			return nil, err
		}
		kind = inferred
	}

	switch kind {
	case worklog.SourceCSV:
		if strings.TrimSpace(opts.Path) == "" {
			return nil, errors.New("csv source requires an input path")
		}
		return &CSVConnector{Path: opts.Path, DurationUnit: opts.DurationUnit, Window: opts.Window}, nil
	case worklog.SourceExcel:
		if strings.TrimSpace(opts.Path) == "" {
			return nil, errors.New("excel source requires an input path")
		}
		return &ExcelConnector{Path: opts.Path, DurationUnit: opts.DurationUnit, Window: opts.Window}, nil
	case worklog.SourceTimeular:
		if opts.Timeular == nil || opts.Credentials == nil {
			return nil, errors.New("timeular source requires an API client and credentials")
		}
		if opts.Window.From.IsZero() || opts.Window.To.IsZero() {
			return nil, errors.New("timeular source requires a bounded date range")
		}
		return &TimeularConnector{
			Client:      opts.Timeular,
			Credentials: opts.Credentials,
			Range:       opts.Window,
			WindowSize:  opts.WindowSize,
			Retry:       opts.Retry,
			Logger:      opts.Logger,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported source kind: %s", opts.Kind)
	}
}

func KindForPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(path))) {
	case ".csv":
		return worklog.SourceCSV, nil
	case ".xlsx", ".xlsm":
		return worklog.SourceExcel, nil
	case "":
		return "", errors.New("source kind is required (csv, excel or timeular)")
	default:
		return "", fmt.Errorf("unsupported input file type: %s", filepath.Ext(path))
	}
}

// ParseError describes a skipped source row.
type ParseError struct {
	Row    int
	Reason string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// Collect drains c. Row-level parse errors are reported and skipped; any other
// error aborts.
func Collect(ctx context.Context, c Connector) ([]worklog.TimeEntry, []ParseError, error) {
	entries := make([]worklog.TimeEntry, 0, 128)
	report := make([]ParseError, 0)

	for entry, err := range c.Fetch(ctx) {
		if err != nil {
			var classified *syncerr.Error
			if errors.As(err, &classified) && classified.Kind == syncerr.KindParse && classified.Row > 0 {
				reason := err.Error()
				if classified.Err != nil {
					reason = classified.Err.Error()
				}
				report = append(report, ParseError{Row: classified.Row, Reason: reason})
				continue
			}
			return entries, report, err
		}
		entries = append(entries, entry)
	}
	if err := ctx.Err(); err != nil {
		return entries, report, err
	}
	return entries, report, nil
}
