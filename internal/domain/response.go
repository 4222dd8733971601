package domain

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Item is a single GRTS project record. Keys and value types are defined by
// the upstream service.
type Item map[string]any

// Clone returns a shallow copy of the item.
func (i Item) Clone() Item {
	out := make(Item, len(i))
	for k, v := range i {
		out[k] = v
	}
	return out
}

// UpstreamResponse is the decoded payload for one watershed code.
type UpstreamResponse struct {
	Code       WatershedCode
	StatusCode int
	FetchedAt  time.Time

	// Body is the compacted upstream JSON, one line, byte-for-byte what the
	// whole-response sinks emit.
	Body  []byte
	Items []Item
}

type responseEnvelope struct {
	Items []Item `json:"items"`
}

// DecodeResponse validates and decodes a raw body. Anything that is not a JSON
// object yields a *DecodeError.
func DecodeResponse(code WatershedCode, status int, body []byte, fetchedAt time.Time) (UpstreamResponse, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return UpstreamResponse{}, &DecodeError{HUC12: code.HUC12, Err: errors.New("empty body")}
	}
	if trimmed[0] != '{' {
		return UpstreamResponse{}, &DecodeError{HUC12: code.HUC12, Err: fmt.Errorf("body is not a JSON object (starts with %q)", trimmed[0])}
	}

	if !json.Valid(trimmed) {
		return UpstreamResponse{}, &DecodeError{HUC12: code.HUC12, Err: errors.New("invalid JSON")}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return UpstreamResponse{}, &DecodeError{HUC12: code.HUC12, Err: err}
	}

	var env responseEnvelope
	if err := json.Unmarshal(compact.Bytes(), &env); err != nil {
		return UpstreamResponse{}, &DecodeError{HUC12: code.HUC12, Err: err}
	}

	return UpstreamResponse{
		Code:       code,
		StatusCode: status,
		FetchedAt:  fetchedAt,
		Body:       compact.Bytes(),
		Items:      env.Items,
	}, nil
}

// RawResponse is one undecoded upstream answer.
type RawResponse struct {
	StatusCode int
	Body       []byte
	FetchedAt  time.Time
}
