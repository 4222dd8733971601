package domain

import (
	"errors"
	"fmt"
)

// ErrDateParse marks a project date the normalizer could not read. It is
// always resolved by clamping and never returned to callers of Normalize.
var ErrDateParse = errors.New("unparseable project date")

// SourceReadError reports a missing or malformed code list. It is fatal.
type SourceReadError struct {
	Path string
	Err  error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("read huc list %s: %v", e.Path, e.Err)
}

func (e *SourceReadError) Unwrap() error { return e.Err }

// TransportFailure classifies why the fetcher gave up on a code.
type TransportFailure string

const (
	ConnectFailure TransportFailure = "connect"
	ReadFailure    TransportFailure = "read"
	TimeoutFailure TransportFailure = "timeout"
)

// TransportError is returned once the transport retry budget for a code is
// exhausted. The driver logs it and moves on to the next code.
type TransportError struct {
	HUC12    string
	Kind     TransportFailure
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch %s: %s failure after %d attempts: %v", e.HUC12, e.Kind, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the final attempt timed out.
func (e *TransportError) Timeout() bool { return e.Kind == TimeoutFailure }

// UpstreamStatusError is a non-200 answer from GRTS. The body that came with
// it is still handed back to the caller.
type UpstreamStatusError struct {
	HUC12      string
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("fetch %s: upstream status %d", e.HUC12, e.StatusCode)
}

// DecodeError is a body that is not a usable JSON object.
type DecodeError struct {
	HUC12 string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.HUC12, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SinkWriteError is a failed write or close on one output sink. Sibling sinks
// are unaffected.
type SinkWriteError struct {
	Sink string
	Err  error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Sink, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }
