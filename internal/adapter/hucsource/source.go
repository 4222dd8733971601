// Package hucsource reads the HUC12 code list and records which codes a run
// has finished with.
package hucsource

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/couchcryptid/grts-huc-etl/internal/domain"
)

// CodeColumn is the required column of the input list.
const CodeColumn = "huc12"

// Load reads a comma-delimited code list with a header row. Row order is
// preserved and every column other than huc12 is kept as metadata. Any
// failure is a *domain.SourceReadError.
func Load(path string) ([]domain.WatershedCode, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &domain.SourceReadError{Path: path, Err: err}
	}
	defer f.Close()

	codes, err := Parse(f)
	if err != nil {
		return nil, &domain.SourceReadError{Path: path, Err: err}
	}
	return codes, nil
}

// Parse reads a code list from r. See Load.
func Parse(r io.Reader) ([]domain.WatershedCode, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}

	codeIdx := -1
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		header[i] = name
		if strings.EqualFold(name, CodeColumn) {
			codeIdx = i
		}
	}
	if codeIdx < 0 {
		return nil, fmt.Errorf("header has no %q column", CodeColumn)
	}

	var codes []domain.WatershedCode
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		line, _ := reader.FieldPos(codeIdx)
		huc := strings.TrimSpace(row[codeIdx])
		if huc == "" {
			return nil, fmt.Errorf("line %d: empty %s", line, CodeColumn)
		}

		meta := make(map[string]string, len(header)-1)
		for i, name := range header {
			if i != codeIdx {
				meta[name] = row[i]
			}
		}
		codes = append(codes, domain.WatershedCode{HUC12: huc, Metadata: meta})
	}
	return codes, nil
}
