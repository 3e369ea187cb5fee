package output

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

type ExcelWriter struct{}

func (w *ExcelWriter) Write(path string, tables ...Table) error {
	file := excelize.NewFile()
	defer file.Close()

	defaultSheet := file.GetSheetName(0)
	for i, table := range tables {
		sheet := sheetName(table.Name, i)
		if i == 0 {
			if err := file.SetSheetName(defaultSheet, sheet); err != nil {
				return fmt.Errorf("rename excel sheet %s: %w", sheet, err)
			}
		} else if _, err := file.NewSheet(sheet); err != nil {
			return fmt.Errorf("create excel sheet %s: %w", sheet, err)
		}

		for col, header := range table.Headers {
			cell, _ := excelize.CoordinatesToCellName(col+1, 1)
			if err := file.SetCellValue(sheet, cell, header); err != nil {
				return fmt.Errorf("set excel header %s: %w", cell, err)
			}
		}

		for r, values := range table.Rows {
			for col, value := range values {
				cell, _ := excelize.CoordinatesToCellName(col+1, r+2)
				if err := file.SetCellValue(sheet, cell, value); err != nil {
					return fmt.Errorf("set excel value %s: %w", cell, err)
				}
			}
		}
	}

	if err := file.SaveAs(path); err != nil {
		return fmt.Errorf("save excel output %s: %w", path, err)
	}

	return nil
}

func sheetName(name string, index int) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Sprintf("Sheet%d", index+1)
	}
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}
