package sink

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/couchcryptid/grts-huc-etl/internal/domain"
)

// Delimited writes one row per item. The header is copied byte-for-byte from
// an external header file; its first line, split on the delimiter, also
// fixes the column order of every row.
type Delimited struct {
	f          *os.File
	w          *bufio.Writer
	delim      string
	lineEnding string
	columns    []string
}

// OpenDelimited creates path and copies the header file into it.
func OpenDelimited(path, headerPath, delim, lineEnding string) (*Delimited, error) {
	header, err := os.ReadFile(headerPath)
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open csv sink: %w", err)
	}
	s := &Delimited{
		f:          f,
		w:          bufio.NewWriter(f),
		delim:      delim,
		lineEnding: lineEnding,
		columns:    headerColumns(header, delim),
	}

	// bufio keeps the first write error and reports it from Flush.
	_, _ = s.w.Write(header)
	if len(header) > 0 && !bytes.HasSuffix(header, []byte("\n")) {
		_, _ = s.w.WriteString(lineEnding)
	}
	if err := s.w.Flush(); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return s, nil
}

func headerColumns(header []byte, delim string) []string {
	first, _, _ := bytes.Cut(header, []byte("\n"))
	line := strings.TrimRight(string(first), "\r")
	var cols []string
	for _, c := range strings.Split(line, delim) {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}

func (s *Delimited) Name() string { return "csv" }

// Columns returns the row layout in use.
func (s *Delimited) Columns() []string { return s.columns }

// WriteItem writes the item's values in column order. Missing fields become
// empty cells; fields outside the header are dropped. Without header columns
// the sorted keys of the first item define the layout.
func (s *Delimited) WriteItem(item domain.Item) error {
	if s.f == nil {
		return os.ErrClosed
	}
	if len(s.columns) == 0 {
		s.columns = sortedKeys(item)
	}

	cells := make([]string, len(s.columns))
	for i, col := range s.columns {
		cells[i] = s.cell(item[col])
	}
	if _, err := s.w.WriteString(strings.Join(cells, s.delim)); err != nil {
		return err
	}
	if _, err := s.w.WriteString(s.lineEnding); err != nil {
		return err
	}
	return nil
}

// cell renders v on one line with no delimiter inside it.
func (s *Delimited) cell(v any) string {
	out := FormatValue(v)
	if strings.ContainsAny(out, "\r\n"+s.delim) {
		out = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ", s.delim, " ").Replace(out)
	}
	return out
}

func (s *Delimited) Close() error {
	if s.f == nil {
		return nil
	}
	f := s.f
	s.f = nil

	ferr := s.w.Flush()
	cerr := f.Close()
	if ferr != nil {
		return ferr
	}
	return cerr
}

// FormatValue renders an item value as text: dates as YYYY-MM-DD, whole
// numbers without a fraction, nested values as JSON, nil as "".
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		return val.Format(time.DateOnly)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}

func sortedKeys(item domain.Item) []string {
	keys := make([]string, 0, len(item))
	for k := range item {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
