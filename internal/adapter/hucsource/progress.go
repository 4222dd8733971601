package hucsource

import (
	"errors"
	"fmt"
	"os"
)

// ProgressLog is the append-only record of codes whose fetch attempt has
// completed, one per line. It is written straight to the file with no
// buffering, so a killed run still leaves every finished code on disk.
type ProgressLog struct {
	f          *os.File
	lineEnding string
}

// OpenProgressLog truncates (or creates) path. lineEnding applies to every line.
func OpenProgressLog(path, lineEnding string) (*ProgressLog, error) {
	if lineEnding == "" {
		return nil, errors.New("progress log: empty line ending")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open progress log: %w", err)
	}
	return &ProgressLog{f: f, lineEnding: lineEnding}, nil
}

// RecordCompleted appends huc12 to the log.
func (p *ProgressLog) RecordCompleted(huc12 string) error {
	if p.f == nil {
		return os.ErrClosed
	}
	if _, err := p.f.WriteString(huc12 + p.lineEnding); err != nil {
		return fmt.Errorf("record %s: %w", huc12, err)
	}
	return nil
}

// Close closes the file. Later calls are no-ops.
func (p *ProgressLog) Close() error {
	if p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	return err
}
