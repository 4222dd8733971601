package sink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/grts-huc-etl/internal/domain"
	"github.com/couchcryptid/grts-huc-etl/internal/observability"
)

const testHUC = "010100020101"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testResponse(huc, body string) domain.UpstreamResponse {
	resp, err := domain.DecodeResponse(
		domain.WatershedCode{HUC12: huc, Metadata: map[string]string{"state": "ME"}},
		200, []byte(body),
		time.Date(2025, time.May, 7, 12, 0, 0, 0, time.UTC),
	)
	if err != nil {
		panic(err)
	}
	return resp
}

// --- fakes ---

type recordingSink struct {
	name      string
	err       error
	responses []domain.UpstreamResponse
	items     []domain.Item
	all       [][]domain.UpstreamResponse
	closes    int
	closeErr  error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) WriteResponse(_ context.Context, resp domain.UpstreamResponse) error {
	if s.err != nil {
		return s.err
	}
	s.responses = append(s.responses, resp)
	return nil
}

func (s *recordingSink) WriteItem(item domain.Item) error {
	if s.err != nil {
		return s.err
	}
	s.items = append(s.items, item)
	return nil
}

func (s *recordingSink) WriteAll(resps []domain.UpstreamResponse) error {
	if s.err != nil {
		return s.err
	}
	s.all = append(s.all, resps)
	return nil
}

func (s *recordingSink) Close() error {
	s.closes++
	return s.closeErr
}

// --- Fanout tests ---

func TestFanout_FailingSinkDoesNotBlockSiblings(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	f := NewFanout(metrics, testLogger())

	diskFull := errors.New("no space left on device")
	broken := &recordingSink{name: "json", err: diskFull}
	healthy := &recordingSink{name: "jsonlines"}
	f.AddResponseSink(broken)
	f.AddResponseSink(healthy)

	brokenItems := &recordingSink{name: "csv", err: diskFull}
	healthyItems := &recordingSink{name: "tabular"}
	f.AddItemSink(brokenItems)
	f.AddItemSink(healthyItems)

	resp := testResponse(testHUC, `{"items":[]}`)
	err := f.WriteResponse(context.Background(), resp)
	require.Error(t, err)

	var sinkErr *domain.SinkWriteError
	require.True(t, errors.As(err, &sinkErr))
	assert.Equal(t, "json", sinkErr.Sink)
	assert.ErrorIs(t, err, diskFull)
	assert.Len(t, healthy.responses, 1)

	err = f.WriteItem(domain.Item{"a": 1.0})
	require.Error(t, err)
	assert.Len(t, healthyItems.items, 1)

	assert.Equal(t, 2, f.Failures())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SinkErrors.WithLabelValues("json")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SinkErrors.WithLabelValues("csv")), 0)
}

func TestFanout_WriteAll(t *testing.T) {
	f := NewFanout(observability.NewMetricsForTesting(), testLogger())
	snap := &recordingSink{name: "snapshot"}
	f.AddCollectionSink(snap)

	resps := []domain.UpstreamResponse{testResponse(testHUC, `{"items":[]}`)}
	require.NoError(t, f.WriteAll(resps))
	require.Len(t, snap.all, 1)
	assert.Len(t, snap.all[0], 1)
}

func TestFanout_CloseExactlyOnce(t *testing.T) {
	f := NewFanout(observability.NewMetricsForTesting(), testLogger())
	a := &recordingSink{name: "a", closeErr: errors.New("permission denied")}
	b := &recordingSink{name: "b"}
	c := &recordingSink{name: "c"}
	f.AddResponseSink(a)
	f.AddItemSink(b)
	f.AddCollectionSink(c)

	err := f.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink a")

	require.NoError(t, f.Close())
	assert.Equal(t, 1, a.closes)
	assert.Equal(t, 1, b.closes)
	assert.Equal(t, 1, c.closes)
	assert.Equal(t, 1, f.Failures())
}

func TestFanout_KeepsSinkNameFromNestedError(t *testing.T) {
	f := NewFanout(observability.NewMetricsForTesting(), testLogger())
	f.AddItemSink(&recordingSink{name: "tabular", err: &domain.SinkWriteError{Sink: "xlsx", Err: errors.New("boom")}})

	err := f.WriteItem(domain.Item{})
	var sinkErr *domain.SinkWriteError
	require.True(t, errors.As(err, &sinkErr))
	assert.Equal(t, "xlsx", sinkErr.Sink)
}
