package grts

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/grts-huc-etl/internal/domain"
	"github.com/couchcryptid/grts-huc-etl/internal/observability"
)

const (
	testHUC    = "010100020101"
	testBody   = `{"items":[{"prj_seq":1,"project_start_date":"6/30/2014"}]}`
	apiPath    = "/GetProjectsByHUC12/"
	fastFactor = time.Millisecond
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(baseURL string, retry RetryPolicy, clock clockwork.Clock) (*Client, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	c := NewClient(Options{
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
		Retry:   retry,
	}, clock, metrics, testLogger())
	return c, metrics
}

func defaultRetry() RetryPolicy {
	return RetryPolicy{Total: 20, Connect: 10, Read: 10, BackoffFactor: fastFactor}
}

// hangUp closes the connection without writing a response.
func hangUp(t *testing.T, w http.ResponseWriter) {
	t.Helper()
	hj, ok := w.(http.Hijacker)
	require.True(t, ok)
	conn, _, err := hj.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestClient_Fetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, apiPath+testHUC, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = io.WriteString(w, testBody)
	}))
	defer srv.Close()

	c, metrics := testClient(srv.URL+apiPath, defaultRetry(), nil)
	resp, err := c.Fetch(context.Background(), testHUC)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, testBody, string(resp.Body))
	assert.False(t, resp.FetchedAt.IsZero())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FetchRequests.WithLabelValues("ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.UpstreamStatus.WithLabelValues("200")), 0)
}

func TestClient_Fetch_ReusesTransport(t *testing.T) {
	var remotes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remotes = append(remotes, r.RemoteAddr)
		_, _ = io.WriteString(w, testBody)
	}))
	defer srv.Close()

	c, _ := testClient(srv.URL+apiPath, defaultRetry(), nil)
	for range 3 {
		_, err := c.Fetch(context.Background(), testHUC)
		require.NoError(t, err)
	}

	require.Len(t, remotes, 3)
	assert.Equal(t, remotes[0], remotes[1], "keep-alive connection should be reused")
	assert.Equal(t, remotes[1], remotes[2])
}

func TestClient_Fetch_NonOKCoolsDownAndReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"items":[]}`)
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClock()
	metrics := observability.NewMetricsForTesting()
	c := NewClient(Options{
		BaseURL:      srv.URL + apiPath,
		Timeout:      5 * time.Second,
		Retry:        defaultRetry(),
		ErrorBackoff: 3 * time.Second,
	}, clock, metrics, testLogger())

	type result struct {
		resp domain.RawResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.Fetch(context.Background(), testHUC)
		done <- result{resp, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	select {
	case <-done:
		t.Fatal("Fetch returned before the cooldown elapsed")
	default:
	}

	clock.Advance(3 * time.Second)
	got := <-done

	var statusErr *domain.UpstreamStatusError
	require.True(t, errors.As(got.err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, testHUC, statusErr.HUC12)
	assert.Equal(t, http.StatusServiceUnavailable, got.resp.StatusCode)
	assert.Equal(t, `{"items":[]}`, string(got.resp.Body))
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FetchRequests.WithLabelValues("status")), 0)
}

func TestClient_Fetch_DoesNotFollowRedirects(t *testing.T) {
	var followed atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/moved", func(w http.ResponseWriter, _ *http.Request) {
		followed.Store(true)
		_, _ = io.WriteString(w, testBody)
	})
	mux.HandleFunc(apiPath, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/moved", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := testClient(srv.URL+apiPath, defaultRetry(), nil)
	resp, err := c.Fetch(context.Background(), testHUC)

	var statusErr *domain.UpstreamStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.False(t, followed.Load())
}

func TestClient_Fetch_RetriesDroppedConnections(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			hangUp(t, w)
			return
		}
		_, _ = io.WriteString(w, testBody)
	}))
	defer srv.Close()

	c, metrics := testClient(srv.URL+apiPath, defaultRetry(), nil)
	resp, err := c.Fetch(context.Background(), testHUC)

	require.NoError(t, err)
	assert.Equal(t, testBody, string(resp.Body))
	assert.Equal(t, int32(3), hits.Load())
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.FetchRetries.WithLabelValues("read")), 0)
}

func TestClient_Fetch_RetryScheduleFollowsClock(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			hangUp(t, w)
			return
		}
		_, _ = io.WriteString(w, testBody)
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClock()
	retry := defaultRetry()
	retry.BackoffFactor = time.Second
	c, _ := testClient(srv.URL+apiPath, retry, clock)

	type result struct {
		resp domain.RawResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.Fetch(context.Background(), testHUC)
		done <- result{resp, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(1), hits.Load())
	clock.Advance(999 * time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())
	clock.Advance(time.Millisecond)

	// Second wait doubles.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(2), hits.Load())
	clock.Advance(2 * time.Second)

	select {
	case got := <-done:
		require.NoError(t, got.err)
		assert.Equal(t, testBody, string(got.resp.Body))
	case <-ctx.Done():
		t.Fatal("Fetch did not return after the backoff elapsed")
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_Fetch_ReadBudgetExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		hangUp(t, w)
	}))
	defer srv.Close()

	retry := defaultRetry()
	retry.Read = 2
	c, metrics := testClient(srv.URL+apiPath, retry, nil)
	_, err := c.Fetch(context.Background(), testHUC)

	var tErr *domain.TransportError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, domain.ReadFailure, tErr.Kind)
	assert.Equal(t, 3, tErr.Attempts)
	assert.Equal(t, testHUC, tErr.HUC12)
	assert.Equal(t, int32(3), hits.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FetchRequests.WithLabelValues("transport")), 0)
}

func TestClient_Fetch_TotalBudgetCapsRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		hangUp(t, w)
	}))
	defer srv.Close()

	retry := defaultRetry()
	retry.Total = 1
	c, _ := testClient(srv.URL+apiPath, retry, nil)
	_, err := c.Fetch(context.Background(), testHUC)

	var tErr *domain.TransportError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, 2, tErr.Attempts)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_Fetch_ConnectBudgetExhausted(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	retry := defaultRetry()
	retry.Connect = 2
	c, metrics := testClient("http://"+addr+apiPath, retry, nil)
	_, err = c.Fetch(context.Background(), testHUC)

	var tErr *domain.TransportError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, domain.ConnectFailure, tErr.Kind)
	assert.Equal(t, 3, tErr.Attempts)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.FetchRetries.WithLabelValues("connect")), 0)
}

func TestClient_Fetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	metrics := observability.NewMetricsForTesting()
	retry := defaultRetry()
	retry.Read = 1
	c := NewClient(Options{
		BaseURL: srv.URL + apiPath,
		Timeout: 50 * time.Millisecond,
		Retry:   retry,
	}, nil, metrics, testLogger())

	_, err := c.Fetch(context.Background(), testHUC)

	var tErr *domain.TransportError
	require.True(t, errors.As(err, &tErr))
	assert.True(t, tErr.Timeout())
	assert.Equal(t, 2, tErr.Attempts)
}

func TestClient_Fetch_CancelledContextStopsRetrying(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		hangUp(t, w)
	}))
	defer srv.Close()

	retry := defaultRetry()
	retry.BackoffFactor = time.Hour
	c, _ := testClient(srv.URL+apiPath, retry, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Fetch(ctx, testHUC)

	var tErr *domain.TransportError
	require.True(t, errors.As(err, &tErr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_LegacyTLS(t *testing.T) {
	var version uint16
	var protoMajor int
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version = r.TLS.Version
		protoMajor = r.ProtoMajor
		_, _ = io.WriteString(w, testBody)
	}))
	srv.EnableHTTP2 = true
	srv.StartTLS()
	defer srv.Close()

	metrics := observability.NewMetricsForTesting()
	c := NewClient(Options{
		BaseURL:   srv.URL + apiPath,
		Timeout:   5 * time.Second,
		LegacyTLS: true,
		Retry:     defaultRetry(),
	}, nil, metrics, testLogger())
	transport := c.httpClient.Transport.(*http.Transport)
	transport.TLSClientConfig.RootCAs = srv.Client().Transport.(*http.Transport).TLSClientConfig.RootCAs

	_, err := c.Fetch(context.Background(), testHUC)
	require.NoError(t, err)

	assert.Equal(t, uint16(tls.VersionTLS12), version)
	assert.Equal(t, 1, protoMajor)
	assert.Equal(t, tls.RenegotiateFreelyAsClient, transport.TLSClientConfig.Renegotiation)
}

func TestNewTransport_ModernTLSUntouched(t *testing.T) {
	tr := newTransport(false)
	assert.True(t, tr.ForceAttemptHTTP2)
	assert.Nil(t, tr.TLSNextProto)
	if tr.TLSClientConfig != nil {
		assert.Zero(t, tr.TLSClientConfig.MaxVersion)
		assert.Equal(t, tls.RenegotiateNever, tr.TLSClientConfig.Renegotiation)
	}
}

func TestClassify(t *testing.T) {
	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	read := &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}

	assert.Equal(t, domain.ConnectFailure, classify(dial))
	assert.Equal(t, domain.ConnectFailure, classify(&net.DNSError{Err: "no such host", Name: "ordspub.epa.gov"}))
	assert.Equal(t, domain.ConnectFailure, classify(tls.RecordHeaderError{Msg: "first record does not look like a TLS handshake"}))
	assert.Equal(t, domain.ReadFailure, classify(read))
	assert.Equal(t, domain.ReadFailure, classify(io.ErrUnexpectedEOF))
	assert.Equal(t, domain.ConnectFailure, classify(&net.DNSError{IsTimeout: true}), "DNS timeouts are connect failures")
	assert.Equal(t, domain.TimeoutFailure, classify(&net.OpError{Op: "read", Net: "tcp", Err: os.ErrDeadlineExceeded}))
}
