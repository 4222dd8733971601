package main

import (
	"bufio"
	"bytes"
	"os"
	"slices"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	json "github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"
	"github.com/xuri/excelize/v2"

	"github.com/couchcryptid/grts-huc-etl/internal/adapter/hucsource"
)

// runCounts are the totals every other artifact is compared against.
type runCounts struct {
	responses int
	items     int
}

// validateProgress checks the progress log lists every input code exactly
// once, in input order.
func validateProgress(inputPath, progressPath, lineEnding string) *phase {
	p := &phase{name: "Progress log matches input list"}

	codes, err := hucsource.Load(inputPath)
	if err != nil {
		p.errorf("load input: %v", err)
		return p
	}
	data, err := os.ReadFile(progressPath)
	if err != nil {
		p.errorf("read progress log: %v", err)
		return p
	}

	text := string(data)
	if text != "" && !strings.HasSuffix(text, lineEnding) {
		p.errorf("progress log does not end with the configured line ending")
	}
	var logged []string
	if trimmed := strings.TrimSuffix(text, lineEnding); trimmed != "" {
		logged = strings.Split(trimmed, lineEnding)
	}

	if len(logged) != len(codes) {
		p.errorf("progress log has %d codes, input has %d", len(logged), len(codes))
	}
	for i := 0; i < len(logged) && i < len(codes); i++ {
		if logged[i] != codes[i].HUC12 {
			p.errorf("line %d: got %q, want %q", i+1, logged[i], codes[i].HUC12)
		}
	}
	return p
}

// validateJSONLines checks every line is a JSON object with an items array and
// returns the response and item totals.
func validateJSONLines(path string) (*phase, runCounts) {
	p := &phase{name: "JSON-lines parse"}
	var counts runCounts

	f, err := os.Open(path)
	if err != nil {
		p.errorf("open: %v", err)
		return p, counts
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for n := 1; scanner.Scan(); n++ {
		line := bytes.TrimRight(scanner.Bytes(), "\r")
		var doc struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(line, &doc); err != nil {
			p.errorf("line %d: %v", n, err)
			continue
		}
		counts.responses++
		counts.items += len(doc.Items)
	}
	if err := scanner.Err(); err != nil {
		p.errorf("scan: %v", err)
	}
	return p, counts
}

// validateJSONArray checks the file is one {"data":[...]} document holding
// wantResponses elements.
func validateJSONArray(path string, wantResponses int) *phase {
	p := &phase{name: "JSON array document"}

	data, err := os.ReadFile(path)
	if err != nil {
		p.errorf("read: %v", err)
		return p
	}
	var doc struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		p.errorf("parse: %v", err)
		return p
	}
	if len(doc.Data) != wantResponses {
		p.errorf("data has %d elements, JSON-lines has %d", len(doc.Data), wantResponses)
	}
	return p
}

// validateSnapshot checks the Avro snapshot holds one record per response.
func validateSnapshot(path string, wantResponses int) *phase {
	p := &phase{name: "Avro snapshot"}

	f, err := os.Open(path)
	if err != nil {
		p.errorf("open: %v", err)
		return p
	}
	defer f.Close()

	r, err := goavro.NewOCFReader(f)
	if err != nil {
		p.errorf("read container: %v", err)
		return p
	}
	n := 0
	for r.Scan() {
		if _, err := r.Read(); err != nil {
			p.errorf("record %d: %v", n+1, err)
			return p
		}
		n++
	}
	if err := r.Err(); err != nil {
		p.errorf("scan: %v", err)
	}
	if n != wantResponses {
		p.errorf("snapshot has %d records, JSON-lines has %d", n, wantResponses)
	}
	return p
}

// validateDelimited checks the header is copied verbatim and every row has
// one cell per header column.
func validateDelimited(path, headerPath, delim string, wantRows int) *phase {
	p := &phase{name: "Delimited text header and rows"}

	header, err := os.ReadFile(headerPath)
	if err != nil {
		p.errorf("read header file: %v", err)
		return p
	}
	data, err := os.ReadFile(path)
	if err != nil {
		p.errorf("read: %v", err)
		return p
	}
	if !bytes.HasPrefix(data, header) {
		p.errorf("output does not start with the header file contents")
		return p
	}

	lines := splitLines(string(data))
	if len(lines) == 0 {
		p.errorf("output is empty")
		return p
	}
	cols := strings.Count(lines[0], delim) + 1
	rows := lines[1:]
	if len(rows) != wantRows {
		p.errorf("%d rows, JSON-lines has %d items", len(rows), wantRows)
	}
	for i, row := range rows {
		if got := strings.Count(row, delim) + 1; got != cols {
			p.errorf("row %d: %d cells, header has %d", i+1, got, cols)
		}
	}
	return p
}

// validateTabular checks the spreadsheet and feather exports agree with each
// other and with the item count.
func validateTabular(xlsxPath, featherPath string, wantRows int) *phase {
	p := &phase{name: "Spreadsheet and feather agree"}

	wb, err := excelize.OpenFile(xlsxPath)
	if err != nil {
		p.errorf("open xlsx: %v", err)
		return p
	}
	defer wb.Close()
	sheet := wb.GetSheetName(0)
	rows, err := wb.GetRows(sheet)
	if err != nil {
		p.errorf("read xlsx rows: %v", err)
		return p
	}
	var xlsxFields []string
	if len(rows) > 0 {
		xlsxFields = rows[0]
		rows = rows[1:]
	}

	f, err := os.Open(featherPath)
	if err != nil {
		p.errorf("open feather: %v", err)
		return p
	}
	defer f.Close()
	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		p.errorf("read feather: %v", err)
		return p
	}
	defer r.Close()

	var featherRows int64
	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.Record(i)
		if err != nil {
			p.errorf("feather record %d: %v", i, err)
			return p
		}
		featherRows += rec.NumRows()
	}
	featherFields := make([]string, 0, r.Schema().NumFields())
	for _, field := range r.Schema().Fields() {
		featherFields = append(featherFields, field.Name)
	}

	if len(rows) != wantRows {
		p.errorf("xlsx has %d rows, JSON-lines has %d items", len(rows), wantRows)
	}
	if featherRows != int64(wantRows) {
		p.errorf("feather has %d rows, JSON-lines has %d items", featherRows, wantRows)
	}
	if !slices.Equal(xlsxFields, featherFields) {
		p.errorf("field sets differ: xlsx %v, feather %v", xlsxFields, featherFields)
	}
	return p
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
