package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"covlog/internal/merge"
)

const (
	sheetMerged   = "Merged"
	sheetSummary  = "Summary"
	sheetSegments = "Segments"
)

// SummaryItem is one name/value line of the Summary sheet.
type SummaryItem struct {
	Name  string
	Value any
}

// WriteXLSX saves the table as a workbook with the merged rows, the run
// summary and, when any input span was set aside, a Segments sheet.
func WriteXLSX(path string, tbl merge.Table, summary []SummaryItem) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := f.SetSheetName("Sheet1", sheetMerged); err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}
	if err := writeRows(f, sheetMerged, nil, tbl.Rows, nil); err != nil {
		return err
	}

	if _, err := f.NewSheet(sheetSummary); err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}
	for i, it := range summary {
		row := i + 1
		if err := f.SetCellValue(sheetSummary, cell(1, row), it.Name); err != nil {
			return fmt.Errorf("xlsx summary: %w", err)
		}
		if err := f.SetCellValue(sheetSummary, cell(2, row), it.Value); err != nil {
			return fmt.Errorf("xlsx summary: %w", err)
		}
	}

	if len(tbl.Segments) > 0 {
		if _, err := f.NewSheet(sheetSegments); err != nil {
			return fmt.Errorf("xlsx: %w", err)
		}
		var rows []merge.Row
		var prefix [][]any
		for _, seg := range tbl.Segments {
			for i, r := range seg.Rows {
				rows = append(rows, r)
				prefix = append(prefix, []any{seg.Source.String(), seg.Index + i})
			}
		}
		if err := writeRows(f, sheetSegments, []string{"source", "input_index"}, rows, prefix); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save xlsx %s: %w", path, err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, extra []string, rows []merge.Row, prefix [][]any) error {
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("xlsx %s: %w", sheet, err)
	}
	header := make([]any, 0, len(extra)+len(Columns))
	for _, h := range extra {
		header = append(header, h)
	}
	for _, h := range Columns {
		header = append(header, h)
	}
	if err := sw.SetRow(cell(1, 1), header); err != nil {
		return fmt.Errorf("xlsx %s: %w", sheet, err)
	}
	for i, r := range rows {
		vals := Values(r)
		if prefix != nil {
			vals = append(append([]any{}, prefix[i]...), vals...)
		}
		if err := sw.SetRow(cell(1, i+2), vals); err != nil {
			return fmt.Errorf("xlsx %s row %d: %w", sheet, i+2, err)
		}
	}
	return sw.Flush()
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
