package sink

import (
	"errors"
	"sort"
	"time"

	"github.com/couchcryptid/grts-huc-etl/internal/domain"
)

// ColumnKind is the inferred type of a table column.
type ColumnKind int

const (
	KindString ColumnKind = iota
	KindFloat
	KindBool
	KindTime
)

// Column is one table column.
type Column struct {
	Name string
	Kind ColumnKind
}

// Table is the materialized item buffer: the union of all item keys as
// columns, sorted by name, and one row per item.
type Table struct {
	Columns []Column
	Rows    []domain.Item
}

// Tabular buffers normalized items in memory and, on Close, exports them as a
// spreadsheet and a feather file. Both exports are always attempted and any
// previous output is overwritten.
type Tabular struct {
	xlsxPath    string
	featherPath string
	rows        []domain.Item
	closed      bool
}

// NewTabular creates an empty buffer. Nothing touches the disk until Close.
func NewTabular(xlsxPath, featherPath string) *Tabular {
	return &Tabular{xlsxPath: xlsxPath, featherPath: featherPath}
}

func (t *Tabular) Name() string { return "tabular" }

func (t *Tabular) WriteItem(item domain.Item) error {
	if t.closed {
		return errors.New("tabular sink closed")
	}
	t.rows = append(t.rows, item.Clone())
	return nil
}

// Len is the number of buffered rows.
func (t *Tabular) Len() int { return len(t.rows) }

// Table materializes the buffer.
func (t *Tabular) Table() Table {
	return BuildTable(t.rows)
}

// Close exports the table. Errors from the two exports are joined and tagged
// with the file format.
func (t *Tabular) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	table := t.Table()
	var errs []error
	if err := WriteXLSX(t.xlsxPath, table); err != nil {
		errs = append(errs, &domain.SinkWriteError{Sink: "xlsx", Err: err})
	}
	if err := WriteFeather(t.featherPath, table); err != nil {
		errs = append(errs, &domain.SinkWriteError{Sink: "feather", Err: err})
	}
	return errors.Join(errs...)
}

// BuildTable infers columns from rows. A column whose non-nil values all share
// one of time, float, or bool gets that kind; anything else is a string column.
func BuildTable(rows []domain.Item) Table {
	kinds := make(map[string]ColumnKind)
	seen := make(map[string]bool)
	for _, row := range rows {
		for k, v := range row {
			if v == nil {
				if _, ok := kinds[k]; !ok {
					kinds[k] = KindString
				}
				continue
			}
			kind := kindOf(v)
			if !seen[k] {
				seen[k] = true
				kinds[k] = kind
			} else if kinds[k] != kind {
				kinds[k] = KindString
			}
		}
	}

	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, k)
	}
	sort.Strings(names)

	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Name: n, Kind: kinds[n]}
	}
	return Table{Columns: cols, Rows: rows}
}

func kindOf(v any) ColumnKind {
	switch v.(type) {
	case time.Time:
		return KindTime
	case float64:
		return KindFloat
	case bool:
		return KindBool
	default:
		return KindString
	}
}
