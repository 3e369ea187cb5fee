package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"timebill/internal/syncerr"
	"timebill/internal/timeutil"
	"timebill/worklog"
)

// tabularRows is a forward-only row cursor. Next returns io.EOF after the
// last row. A *rowError marks a single unreadable row; reading may continue.
type tabularRows interface {
	Next() ([]string, error)
	Close() error
}

type rowError struct {
	err error
}

func (e *rowError) Error() string { return e.err.Error() }
func (e *rowError) Unwrap() error { return e.err }

type openRows func(path string) (tabularRows, error)

// fetchTabular maps the rows of a tabular export to entries. The header is
// row 1, so the first data row is row 2.
func fetchTabular(ctx context.Context, path, unit, kind string, window timeutil.Window, open openRows) iter.Seq2[worklog.TimeEntry, error] {
	return func(yield func(worklog.TimeEntry, error) bool) {
		rows, err := open(path)
		if err != nil {
			yield(worklog.TimeEntry{}, err)
			return
		}
		defer rows.Close()

		header, err := rows.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("file is empty")
			}
			yield(worklog.TimeEntry{}, headerError(path, err))
			return
		}
		headers := normalizeHeaders(header)
		if missing := missingColumns(headers); len(missing) > 0 {
			yield(worklog.TimeEntry{}, headerError(path, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))))
			return
		}

		rowNumber := 1
		for {
			if err := ctx.Err(); err != nil {
				yield(worklog.TimeEntry{}, err)
				return
			}

			row, err := rows.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			rowNumber++

			var unreadable *rowError
			if errors.As(err, &unreadable) {
				if !yield(worklog.TimeEntry{}, syncerr.ParseError(rowNumber, unreadable.Error())) {
					return
				}
				continue
			}
			if err != nil {
				yield(worklog.TimeEntry{}, fmt.Errorf("read %s row %d: %w", path, rowNumber, err))
				return
			}
			if isBlankRow(row) {
				continue
			}

			entry, err := entryFromRecord(recordFromRow(rowNumber, headers, row), unit, kind)
			if err != nil {
				if !yield(worklog.TimeEntry{}, syncerr.ParseError(rowNumber, err.Error())) {
					return
				}
				continue
			}
			if !window.Contains(entry.Start) {
				continue
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

func headerError(path string, err error) error {
	return &syncerr.Error{
		Kind:  syncerr.KindParse,
		Stage: "fetch",
		Err:   fmt.Errorf("%s: %w", path, err),
	}
}
