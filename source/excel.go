package source

import (
	"context"
	"fmt"
	"io"
	"iter"

	"timebill/internal/timeutil"
	"timebill/worklog"

	"github.com/xuri/excelize/v2"
)

// ExcelConnector reads the first sheet of an .xlsx export.
type ExcelConnector struct {
	Path         string
	DurationUnit string
	Window       timeutil.Window
}

func (c *ExcelConnector) Fetch(ctx context.Context) iter.Seq2[worklog.TimeEntry, error] {
	return fetchTabular(ctx, c.Path, c.DurationUnit, worklog.SourceExcel, c.Window, openExcelRows)
}

type excelRows struct {
	file *excelize.File
	rows *excelize.Rows
}

func openExcelRows(path string) (tabularRows, error) {
	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open excel file %s: %w", path, err)
	}

	sheetName := file.GetSheetName(0)
	if sheetName == "" {
		file.Close()
		return nil, fmt.Errorf("excel file has no sheets: %s", path)
	}

	rows, err := file.Rows(sheetName)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("read rows from sheet %s: %w", sheetName, err)
	}
	return &excelRows{file: file, rows: rows}, nil
}

func (r *excelRows) Next() ([]string, error) {
	if !r.rows.Next() {
		if err := r.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	columns, err := r.rows.Columns()
	if err != nil {
		return nil, &rowError{err: err}
	}
	return columns, nil
}

func (r *excelRows) Close() error {
	_ = r.rows.Close()
	return r.file.Close()
}
