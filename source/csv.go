package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"iter"
	"os"

	"timebill/internal/timeutil"
	"timebill/worklog"
)

type CSVConnector struct {
	Path         string
	DurationUnit string
	Window       timeutil.Window
}

func (c *CSVConnector) Fetch(ctx context.Context) iter.Seq2[worklog.TimeEntry, error] {
	return fetchTabular(ctx, c.Path, c.DurationUnit, worklog.SourceCSV, c.Window, openCSVRows)
}

type csvRows struct {
	file   *os.File
	reader *csv.Reader
}

func openCSVRows(path string) (tabularRows, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv file %s: %w", path, err)
	}
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false
	return &csvRows{file: file, reader: reader}, nil
}

func (r *csvRows) Next() ([]string, error) {
	row, err := r.reader.Read()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, &rowError{err: parseErr.Err}
		}
		return nil, err
	}
	return row, nil
}

func (r *csvRows) Close() error {
	return r.file.Close()
}
