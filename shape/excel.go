package shape

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// SpreadsheetSheets lists the sheet names of an Excel workbook.
func SpreadsheetSheets(r io.Reader) ([]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

// SheetToCSV converts one sheet of an Excel workbook to CSV. Rows are
// padded to the widest row so the output stays rectangular. A zero
// separator means comma.
func SheetToCSV(r io.Reader, sheet string, w io.Writer, separator rune) error {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}

	cw := csv.NewWriter(w)
	if separator != 0 {
		cw.Comma = separator
	}
	padded := make([]string, width)
	for _, row := range rows {
		copy(padded, row)
		for i := len(row); i < width; i++ {
			padded[i] = ""
		}
		if err := cw.Write(padded); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
