package sink

import (
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ArrowSchema maps table columns to nullable Arrow fields.
func ArrowSchema(cols []Column) *arrow.Schema {
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		fields[i] = arrow.Field{Name: c.Name, Type: arrowType(c.Kind), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

func arrowType(kind ColumnKind) arrow.DataType {
	switch kind {
	case KindTime:
		return &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}
	case KindFloat:
		return arrow.PrimitiveTypes.Float64
	case KindBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

// WriteFeather writes table to path as a Feather v2 (Arrow IPC file) with LZ4
// compressed buffers, the format pandas and R's arrow package read natively.
func WriteFeather(path string, table Table) error {
	mem := memory.NewGoAllocator()
	schema := ArrowSchema(table.Columns)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for _, row := range table.Rows {
		for i, c := range table.Columns {
			appendArrowValue(b.Field(i), row[c.Name])
		}
	}
	rec := b.NewRecord()
	defer rec.Release()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open feather file: %w", err)
	}
	defer f.Close()

	w, err := ipc.NewFileWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(mem), ipc.WithLZ4())
	if err != nil {
		return fmt.Errorf("feather writer: %w", err)
	}
	if rec.NumRows() > 0 {
		if err := w.Write(rec); err != nil {
			w.Close()
			return fmt.Errorf("feather write: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("feather close: %w", err)
	}
	return f.Close()
}

func appendArrowValue(builder array.Builder, v any) {
	if v == nil {
		builder.AppendNull()
		return
	}
	switch b := builder.(type) {
	case *array.TimestampBuilder:
		b.Append(arrow.Timestamp(v.(time.Time).UnixMilli()))
	case *array.Float64Builder:
		b.Append(v.(float64))
	case *array.BooleanBuilder:
		b.Append(v.(bool))
	case *array.StringBuilder:
		b.Append(FormatValue(v))
	default:
		builder.AppendNull()
	}
}
