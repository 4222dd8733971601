package sink

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Sheet1"

// WriteXLSX writes table to path as a single-sheet workbook with a header row.
func WriteXLSX(path string, table Table) error {
	f := excelize.NewFile()
	defer f.Close()

	dateStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: ptr("yyyy-mm-dd")})
	if err != nil {
		return fmt.Errorf("xlsx date style: %w", err)
	}

	sw, err := f.NewStreamWriter(xlsxSheet)
	if err != nil {
		return fmt.Errorf("xlsx stream writer: %w", err)
	}

	header := make([]any, len(table.Columns))
	for i, c := range table.Columns {
		header[i] = c.Name
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("xlsx header: %w", err)
	}

	for r, row := range table.Rows {
		values := make([]any, len(table.Columns))
		for i, c := range table.Columns {
			values[i] = xlsxValue(row[c.Name], c.Kind, dateStyle)
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, values); err != nil {
			return fmt.Errorf("xlsx row %d: %w", r+1, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("xlsx flush: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("xlsx save: %w", err)
	}
	return nil
}

func xlsxValue(v any, kind ColumnKind, dateStyle int) any {
	if v == nil {
		return nil
	}
	switch kind {
	case KindTime:
		return excelize.Cell{StyleID: dateStyle, Value: v.(time.Time)}
	case KindFloat, KindBool:
		return v
	default:
		return FormatValue(v)
	}
}

func ptr[T any](v T) *T { return &v }
