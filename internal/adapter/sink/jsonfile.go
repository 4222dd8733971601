package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"

	json "github.com/goccy/go-json"

	"github.com/couchcryptid/grts-huc-etl/internal/domain"
)

// payload is the JSON text written for a response: the compacted upstream
// body, or a re-encoding of its items when no body was kept.
func payload(resp domain.UpstreamResponse) ([]byte, error) {
	if len(resp.Body) > 0 {
		return resp.Body, nil
	}
	items := resp.Items
	if items == nil {
		items = []domain.Item{}
	}
	return json.Marshal(map[string]any{"items": items})
}

// errBroken is returned by a JSONArray whose document was left incomplete by
// an earlier write error.
var errBroken = errors.New("json document broken by earlier write error")

// JSONArray writes {"data":[<response>,<response>,...]}. The closing
// brackets are written by Close, so the file is valid JSON once closed.
// After any write error the sink refuses further writes.
type JSONArray struct {
	f      *os.File
	w      *bufio.Writer
	n      int
	broken error
}

// OpenJSONArray creates path and writes the opening of the document.
func OpenJSONArray(path string) (*JSONArray, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open json sink: %w", err)
	}
	s := &JSONArray{f: f, w: bufio.NewWriter(f)}
	if _, err := s.w.WriteString(`{"data":[`); err != nil {
		f.Close()
		return nil, fmt.Errorf("open json sink: %w", err)
	}
	return s, nil
}

func (s *JSONArray) Name() string { return "json" }

func (s *JSONArray) WriteResponse(_ context.Context, resp domain.UpstreamResponse) error {
	if s.f == nil {
		return os.ErrClosed
	}
	if s.broken != nil {
		return fmt.Errorf("%w: %w", errBroken, s.broken)
	}
	data, err := payload(resp)
	if err != nil {
		return err
	}
	if s.n > 0 {
		if err := s.w.WriteByte(','); err != nil {
			s.broken = err
			return err
		}
	}
	if _, err := s.w.Write(data); err != nil {
		s.broken = err
		return err
	}
	s.n++
	return nil
}

// Close terminates the array and object, then flushes and closes the file.
func (s *JSONArray) Close() error {
	if s.f == nil {
		return nil
	}
	f := s.f
	s.f = nil

	if s.broken != nil {
		f.Close()
		return fmt.Errorf("%w: %w", errBroken, s.broken)
	}
	_, werr := s.w.WriteString("]}\n")
	if werr == nil {
		werr = s.w.Flush()
	}
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

// JSONLines writes one response per line. Each line is flushed as it is
// written.
type JSONLines struct {
	f          *os.File
	w          *bufio.Writer
	lineEnding string
}

// OpenJSONLines creates path.
func OpenJSONLines(path, lineEnding string) (*JSONLines, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open json-lines sink: %w", err)
	}
	return &JSONLines{f: f, w: bufio.NewWriter(f), lineEnding: lineEnding}, nil
}

func (s *JSONLines) Name() string { return "jsonlines" }

func (s *JSONLines) WriteResponse(_ context.Context, resp domain.UpstreamResponse) error {
	if s.f == nil {
		return os.ErrClosed
	}
	data, err := payload(resp)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	if _, err := s.w.WriteString(s.lineEnding); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *JSONLines) Close() error {
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
