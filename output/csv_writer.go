package output

import (
	"encoding/csv"
	"fmt"
	"os"
)

type CSVWriter struct{}

func (w *CSVWriter) Write(path string, tables ...Table) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv output %s: %w", path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	for i, table := range tables {
		if i > 0 {
			if err := writer.Write([]string{""}); err != nil {
				return fmt.Errorf("write csv separator: %w", err)
			}
		}
		if err := writer.Write(table.Headers); err != nil {
			return fmt.Errorf("write csv headers: %w", err)
		}
		for _, row := range table.Rows {
			if err := writer.Write(row); err != nil {
				return fmt.Errorf("write csv row: %w", err)
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv output: %w", err)
	}

	return nil
}
