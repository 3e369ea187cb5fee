package output

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Table is one sheet of a report. CSV output writes tables one after another,
// separated by an empty line; Excel output writes one sheet per table.
type Table struct {
	Name    string
	Headers []string
	Rows    [][]string
}

type Writer interface {
	Write(path string, tables ...Table) error
}

func WriterForFormat(format string) (Writer, error) {
	switch normalizeFormat(format) {
	case "csv":
		return &CSVWriter{}, nil
	case "excel", "xlsx":
		return &ExcelWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// FormatForPath infers the output format from the file extension.
func FormatForPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "csv", nil
	case ".xlsx":
		return "xlsx", nil
	default:
		return "", fmt.Errorf("cannot infer output format from %q (use .csv or .xlsx)", path)
	}
}

func normalizeFormat(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}
