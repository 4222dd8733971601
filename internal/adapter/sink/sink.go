// Package sink writes fetched GRTS data to the run's output files.
//
// Sinks come in three shapes: whole-response sinks written once per fetched
// code, item sinks written once per normalized project, and collection sinks
// written once with everything at the end of the run. A Fanout drives all of
// them and keeps one failing sink from starving the others.
package sink

import (
	"context"
	"errors"
	"log/slog"

	"github.com/couchcryptid/grts-huc-etl/internal/domain"
	"github.com/couchcryptid/grts-huc-etl/internal/observability"
)

// ResponseSink receives each fetched response as a whole.
type ResponseSink interface {
	Name() string
	WriteResponse(ctx context.Context, resp domain.UpstreamResponse) error
	Close() error
}

// ItemSink receives normalized project items.
type ItemSink interface {
	Name() string
	WriteItem(item domain.Item) error
	Close() error
}

// CollectionSink receives every retained response in a single call.
type CollectionSink interface {
	Name() string
	WriteAll(resps []domain.UpstreamResponse) error
	Close() error
}

// Fanout writes to every registered sink independently. A failed write is
// logged, counted, and returned as part of a joined error, and the remaining
// sinks are still written.
type Fanout struct {
	responses   []ResponseSink
	items       []ItemSink
	collections []CollectionSink

	failures int
	closed   bool
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewFanout creates an empty Fanout.
func NewFanout(metrics *observability.Metrics, logger *slog.Logger) *Fanout {
	return &Fanout{metrics: metrics, logger: logger}
}

// AddResponseSink registers s.
func (f *Fanout) AddResponseSink(s ResponseSink) { f.responses = append(f.responses, s) }

// AddItemSink registers s.
func (f *Fanout) AddItemSink(s ItemSink) { f.items = append(f.items, s) }

// AddCollectionSink registers s.
func (f *Fanout) AddCollectionSink(s CollectionSink) { f.collections = append(f.collections, s) }

// Failures is the number of failed writes and closes so far.
func (f *Fanout) Failures() int { return f.failures }

// WriteResponse hands resp to every response sink.
func (f *Fanout) WriteResponse(ctx context.Context, resp domain.UpstreamResponse) error {
	var errs []error
	for _, s := range f.responses {
		if err := s.WriteResponse(ctx, resp); err != nil {
			errs = append(errs, f.fail(s.Name(), err, "huc12", resp.Code.HUC12))
		}
	}
	return errors.Join(errs...)
}

// WriteItem hands item to every item sink.
func (f *Fanout) WriteItem(item domain.Item) error {
	var errs []error
	for _, s := range f.items {
		if err := s.WriteItem(item); err != nil {
			errs = append(errs, f.fail(s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// WriteAll hands the full response collection to every collection sink.
func (f *Fanout) WriteAll(resps []domain.UpstreamResponse) error {
	var errs []error
	for _, s := range f.collections {
		if err := s.WriteAll(resps); err != nil {
			errs = append(errs, f.fail(s.Name(), err, "responses", len(resps)))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink exactly once, in registration order. Calling it
// again returns nil.
func (f *Fanout) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	var errs []error
	closeOne := func(name string, c func() error) {
		if err := c(); err != nil {
			errs = append(errs, f.fail(name, err, "stage", "close"))
		}
	}
	for _, s := range f.responses {
		closeOne(s.Name(), s.Close)
	}
	for _, s := range f.items {
		closeOne(s.Name(), s.Close)
	}
	for _, s := range f.collections {
		closeOne(s.Name(), s.Close)
	}
	return errors.Join(errs...)
}

func (f *Fanout) fail(name string, err error, attrs ...any) error {
	f.failures++
	f.metrics.SinkErrors.WithLabelValues(name).Inc()
	f.logger.Error("sink write failed", append([]any{"sink", name, "error", err}, attrs...)...)

	var sinkErr *domain.SinkWriteError
	if errors.As(err, &sinkErr) {
		return err
	}
	return &domain.SinkWriteError{Sink: name, Err: err}
}
