package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/timzifer/eloss/scan"
)

// SheetName is the worksheet holding the scan table.
const SheetName = "scan"

type xlsxWriter struct {
	tabular
	out io.Writer
}

func (w *xlsxWriter) WriteRows(rows []scan.Row) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("report: rename sheet: %w", err)
	}

	header := w.header(rows)
	headerRow := make([]interface{}, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err := w.setRow(f, 1, headerRow); err != nil {
		return err
	}

	stoppedCol := len(header) - len(w.columns) - 1
	for i, row := range rows {
		values := w.cells(row)
		cells := make([]interface{}, len(values))
		for j, v := range values {
			switch {
			case j == 0:
				cells[j] = row.Index
			case j == 1 || j == 2:
				cells[j] = v
			case j == stoppedCol:
				cells[j] = row.Chain.Stopped
			default:
				cells[j] = w.round(v)
			}
		}
		if err := w.setRow(f, i+2, cells); err != nil {
			return err
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("report: freeze header: %w", err)
	}

	if err := f.Write(w.out); err != nil {
		return fmt.Errorf("report: write workbook: %w", err)
	}
	return nil
}

func (w *xlsxWriter) setRow(f *excelize.File, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
		return fmt.Errorf("report: write row %d: %w", row, err)
	}
	return nil
}
