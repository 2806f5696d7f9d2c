package export

import (
	"fmt"
	"io"

	"github.com/unidoc/unioffice/spreadsheet"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Sheet1"

// workbookWriter writes rows of text cells to the first sheet of a new workbook
type workbookWriter func(w io.Writer, rows [][]string) error

// Option configures an Exporter
type Option func(*Exporter)

// WithUnioffice writes workbooks with unioffice. A metered unidoc license
// must be loaded first, otherwise every save fails.
func WithUnioffice() Option {
	return func(e *Exporter) {
		e.workbook = writeUnioffice
	}
}

func writeExcelize(w io.Writer, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func writeUnioffice(w io.Writer, rows [][]string) error {
	wb := spreadsheet.New()
	defer wb.Close()

	sheet := wb.AddSheet()
	sheet.SetName(sheetName)

	for _, cells := range rows {
		row := sheet.AddRow()
		for _, v := range cells {
			row.AddCell().SetString(v)
		}
	}

	if err := wb.Save(w); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}
