// Package pipeline drives one GRTS run: fetch every code, fan each response
// out to the whole-response sinks, then normalize and fan out every item.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/grts-huc-etl/internal/domain"
	"github.com/couchcryptid/grts-huc-etl/internal/observability"
)

// Fetcher retrieves the raw upstream answer for one code.
type Fetcher interface {
	Fetch(ctx context.Context, huc12 string) (domain.RawResponse, error)
}

// ProgressRecorder logs codes whose fetch attempt has finished.
type ProgressRecorder interface {
	RecordCompleted(huc12 string) error
}

// Transformer converts an upstream item into its normalized form.
type Transformer interface {
	Transform(item domain.Item) domain.Item
}

// Sinks is the output fan-out. Write methods report failures but the
// implementation is expected to keep writing to healthy sinks. Close
// finalizes every sink; its failures are included in Failures.
type Sinks interface {
	WriteResponse(ctx context.Context, resp domain.UpstreamResponse) error
	WriteAll(resps []domain.UpstreamResponse) error
	WriteItem(item domain.Item) error
	Close() error
	Failures() int
}

// Summary describes a run.
type Summary struct {
	Codes           int  `json:"codes"`
	Attempted       int  `json:"attempted"`
	Fetched         int  `json:"fetched"`
	StatusErrors    int  `json:"status_errors"`
	TransportErrors int  `json:"transport_errors"`
	DecodeErrors    int  `json:"decode_errors"`
	Items           int  `json:"items"`
	SinkErrors      int  `json:"sink_errors"`
	Interrupted     bool `json:"interrupted"`
}

// Pipeline sequences a single run. Codes are processed strictly one at a
// time; the pacing interval is slept after every fetch attempt.
type Pipeline struct {
	fetcher     Fetcher
	progress    ProgressRecorder
	transformer Transformer
	sinks       Sinks
	clock       clockwork.Clock
	pace        time.Duration
	logger      *slog.Logger
	metrics     *observability.Metrics

	ready   atomic.Bool
	mu      sync.Mutex
	summary Summary
}

// New creates a Pipeline. A nil clock means wall-clock time.
func New(f Fetcher, pr ProgressRecorder, t Transformer, s Sinks, clock clockwork.Clock, pace time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		fetcher:     f,
		progress:    pr,
		transformer: t,
		sinks:       s,
		clock:       clock,
		pace:        pace,
		logger:      logger,
		metrics:     metrics,
	}
}

// CheckReadiness returns nil once the first code has been processed.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any codes yet")
	}
	return nil
}

// Status returns a copy of the running summary.
func (p *Pipeline) Status() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summary
}

func (p *Pipeline) update(fn func(*Summary)) {
	p.mu.Lock()
	fn(&p.summary)
	p.mu.Unlock()
}

// Run processes codes in order. Cancelling ctx stops the loop between codes;
// whatever was fetched so far is still handed to the collection and item
// sinks, and ctx.Err() is returned alongside the summary. The sinks are
// closed before Run returns.
func (p *Pipeline) Run(ctx context.Context, codes []domain.WatershedCode) (Summary, error) {
	p.logger.Info("pipeline started", "codes", len(codes), "pace", p.pace)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)
	p.update(func(s *Summary) { *s = Summary{Codes: len(codes)} })

	responses := make([]domain.UpstreamResponse, 0, len(codes))
	for _, code := range codes {
		if ctx.Err() != nil {
			break
		}

		if resp, ok := p.fetchOne(ctx, code); ok {
			responses = append(responses, resp)
		}

		if err := p.progress.RecordCompleted(code.HUC12); err != nil {
			p.logger.Error("progress log write failed", "huc12", code.HUC12, "error", err)
		}
		p.metrics.CodesProcessed.Inc()
		p.update(func(s *Summary) { s.Attempted++ })
		p.ready.Store(true)

		if !p.sleep(ctx, p.pace) {
			break
		}
	}

	interrupted := ctx.Err() != nil
	if interrupted {
		p.logger.Warn("pipeline interrupted, exporting fetched data", "reason", ctx.Err())
	}

	p.emit(responses)
	if err := p.sinks.Close(); err != nil {
		p.logger.Error("sink close error", "error", err)
	}

	p.update(func(s *Summary) {
		s.SinkErrors = p.sinks.Failures()
		s.Interrupted = interrupted
	})
	summary := p.Status()
	p.logger.Info("pipeline finished",
		"attempted", summary.Attempted,
		"fetched", summary.Fetched,
		"items", summary.Items,
		"sink_errors", summary.SinkErrors,
	)
	if interrupted {
		return summary, ctx.Err()
	}
	return summary, nil
}

// fetchOne fetches and decodes one code and hands the response to the
// whole-response sinks. It reports false when the code contributes nothing.
func (p *Pipeline) fetchOne(ctx context.Context, code domain.WatershedCode) (domain.UpstreamResponse, bool) {
	raw, err := p.fetcher.Fetch(ctx, code.HUC12)

	var statusErr *domain.UpstreamStatusError
	switch {
	case errors.As(err, &statusErr):
		p.logger.Warn("upstream returned an error status", "huc12", code.HUC12, "status", statusErr.StatusCode)
		p.update(func(s *Summary) { s.StatusErrors++ })
	case err != nil:
		p.logger.Error("fetch failed, skipping code", "huc12", code.HUC12, "error", err)
		p.update(func(s *Summary) { s.TransportErrors++ })
		return domain.UpstreamResponse{}, false
	}

	resp, err := domain.DecodeResponse(code, raw.StatusCode, raw.Body, raw.FetchedAt)
	if err != nil {
		p.logger.Warn("response body rejected, skipping code", "huc12", code.HUC12, "status", raw.StatusCode, "error", err)
		p.metrics.FetchRequests.WithLabelValues("decode").Inc()
		p.update(func(s *Summary) { s.DecodeErrors++ })
		return domain.UpstreamResponse{}, false
	}

	// Failures are logged and counted by the sinks.
	_ = p.sinks.WriteResponse(ctx, resp)
	p.update(func(s *Summary) { s.Fetched++ })
	p.logger.Debug("code fetched", "huc12", code.HUC12, "status", resp.StatusCode, "items", len(resp.Items))
	return resp, true
}

// emit writes the retained responses to the collection sinks, then every
// normalized item to the item sinks.
func (p *Pipeline) emit(responses []domain.UpstreamResponse) {
	_ = p.sinks.WriteAll(responses)

	for _, resp := range responses {
		for _, item := range resp.Items {
			_ = p.sinks.WriteItem(p.transformer.Transform(item))
			p.update(func(s *Summary) { s.Items++ })
		}
	}
}

// sleep waits d on the pipeline clock. It returns false if ctx ended first.
func (p *Pipeline) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(d):
		return true
	}
}
