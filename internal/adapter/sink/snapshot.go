package sink

import (
	"fmt"
	"os"

	"github.com/linkedin/goavro/v2"

	"github.com/couchcryptid/grts-huc-etl/internal/domain"
)

// SnapshotSchema is the Avro record stored per response in the snapshot.
const SnapshotSchema = `{
  "type": "record",
  "name": "Response",
  "namespace": "gov.epa.grts",
  "fields": [
    {"name": "huc12", "type": "string"},
    {"name": "metadata", "type": {"type": "map", "values": "string"}},
    {"name": "status_code", "type": "int"},
    {"name": "fetched_at", "type": {"type": "long", "logicalType": "timestamp-millis"}},
    {"name": "body", "type": "bytes"}
  ]
}`

// Snapshot dumps every retained response to a single snappy-compressed Avro
// object container file at the end of the run.
type Snapshot struct {
	f       *os.File
	ocf     *goavro.OCFWriter
	written bool
}

// OpenSnapshot creates path and writes the container header.
func OpenSnapshot(path string) (*Snapshot, error) {
	codec, err := goavro.NewCodec(SnapshotSchema)
	if err != nil {
		return nil, fmt.Errorf("snapshot codec: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot sink: %w", err)
	}
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               f,
		Codec:           codec,
		CompressionName: goavro.CompressionSnappyLabel,
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open snapshot sink: %w", err)
	}
	return &Snapshot{f: f, ocf: ocf}, nil
}

func (s *Snapshot) Name() string { return "snapshot" }

// WriteAll appends all responses as one block. It may be called once.
func (s *Snapshot) WriteAll(resps []domain.UpstreamResponse) error {
	if s.f == nil {
		return os.ErrClosed
	}
	if s.written {
		return fmt.Errorf("snapshot already written")
	}
	s.written = true
	if len(resps) == 0 {
		return nil
	}

	records := make([]any, len(resps))
	for i, r := range resps {
		meta := make(map[string]any, len(r.Code.Metadata))
		for k, v := range r.Code.Metadata {
			meta[k] = v
		}
		body := r.Body
		if body == nil {
			body = []byte{}
		}
		records[i] = map[string]any{
			"huc12":       r.Code.HUC12,
			"metadata":    meta,
			"status_code": int32(r.StatusCode),
			"fetched_at":  r.FetchedAt.UTC(),
			"body":        body,
		}
	}
	return s.ocf.Append(records)
}

func (s *Snapshot) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
