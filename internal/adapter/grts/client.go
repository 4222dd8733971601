// Package grts fetches project records from the EPA GRTS REST API.
package grts

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/grts-huc-etl/internal/domain"
	"github.com/couchcryptid/grts-huc-etl/internal/observability"
)

// RetryPolicy is the transport retry budget for a single fetch. Connect and
// Read are sub-budgets inside Total.
type RetryPolicy struct {
	Total   int
	Connect int
	Read    int

	// BackoffFactor is the first backoff delay; each further retry doubles it
	// up to MaxBackoff.
	BackoffFactor time.Duration
	MaxBackoff    time.Duration
}

// Options configures a Client.
type Options struct {
	BaseURL      string
	Timeout      time.Duration
	LegacyTLS    bool
	Retry        RetryPolicy
	ErrorBackoff time.Duration
}

// Client issues GRTS requests over one shared connection pool.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	retry        RetryPolicy
	errorBackoff time.Duration
	clock        clockwork.Clock
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// NewClient creates a GRTS client. The transport is built once and reused for
// every fetch.
func NewClient(opts Options, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.Retry.MaxBackoff <= 0 {
		opts.Retry.MaxBackoff = 2 * time.Minute
	}
	return &Client{
		httpClient: &http.Client{
			Transport: newTransport(opts.LegacyTLS),
			Timeout:   opts.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL:      opts.BaseURL,
		retry:        opts.Retry,
		errorBackoff: opts.ErrorBackoff,
		clock:        clock,
		metrics:      metrics,
		logger:       logger,
	}
}

// newTransport clones the default transport. In legacy mode the GRTS reverse
// proxy needs TLS 1.2 with server-initiated renegotiation allowed, which also
// rules out HTTP/2.
func newTransport(legacyTLS bool) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if legacyTLS {
		t.TLSClientConfig = legacyTLSConfig()
		t.ForceAttemptHTTP2 = false
		t.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}
	return t
}

func legacyTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:    tls.VersionTLS12,
		MaxVersion:    tls.VersionTLS12,
		Renegotiation: tls.RenegotiateFreelyAsClient,
	}
}

// Fetch requests baseURL+huc12. The code is appended verbatim.
//
// A non-200 answer is logged, followed by the error cooldown, and returned
// together with a *domain.UpstreamStatusError. A *domain.TransportError means
// the retry budget ran out and there is no response at all.
func (c *Client) Fetch(ctx context.Context, huc12 string) (domain.RawResponse, error) {
	start := c.clock.Now()
	resp, err := c.fetchWithRetry(ctx, huc12)
	c.metrics.FetchDuration.Observe(c.clock.Since(start).Seconds())
	if err != nil {
		c.metrics.FetchRequests.WithLabelValues("transport").Inc()
		return domain.RawResponse{}, err
	}

	c.metrics.UpstreamStatus.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	if resp.StatusCode == http.StatusOK {
		c.metrics.FetchRequests.WithLabelValues("ok").Inc()
		return resp, nil
	}

	c.metrics.FetchRequests.WithLabelValues("status").Inc()
	c.logger.Warn("grts returned non-200 status, cooling down",
		"huc12", huc12,
		"status", resp.StatusCode,
		"cooldown", c.errorBackoff,
	)
	c.sleep(ctx, c.errorBackoff)
	return resp, &domain.UpstreamStatusError{HUC12: huc12, StatusCode: resp.StatusCode}
}

func (c *Client) fetchWithRetry(ctx context.Context, huc12 string) (domain.RawResponse, error) {
	url := c.baseURL + huc12

	var (
		attempts     int
		connectFails int
		readFails    int
		lastKind     domain.TransportFailure
	)

	op := func() (domain.RawResponse, error) {
		attempts++
		resp, err := c.do(ctx, url)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return domain.RawResponse{}, backoff.Permanent(err)
		}

		lastKind = classify(err)
		if lastKind == domain.ConnectFailure {
			connectFails++
			if connectFails > c.retry.Connect {
				return domain.RawResponse{}, backoff.Permanent(err)
			}
		} else {
			readFails++
			if readFails > c.retry.Read {
				return domain.RawResponse{}, backoff.Permanent(err)
			}
		}
		return domain.RawResponse{}, err
	}

	notify := func(err error, wait time.Duration) {
		c.metrics.FetchRetries.WithLabelValues(retryLabel(lastKind)).Inc()
		c.logger.Debug("grts request failed, retrying",
			"huc12", huc12,
			"attempt", attempts,
			"kind", string(lastKind),
			"wait", wait,
			"error", err,
		)
	}

	resp, err := backoff.RetryNotifyWithTimerAndData(op, c.newBackOff(ctx), notify, &clockTimer{clock: c.clock})
	if err != nil {
		if lastKind == "" {
			lastKind = domain.ReadFailure
		}
		return domain.RawResponse{}, &domain.TransportError{HUC12: huc12, Kind: lastKind, Attempts: attempts, Err: err}
	}
	return resp, nil
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.BackoffFactor
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.retry.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retry.Total)), ctx)
}

// clockTimer drives backoff waits from the client's clock.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.Chan()
}

func (c *Client) do(ctx context.Context, url string) (domain.RawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.RawResponse{}, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.RawResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.RawResponse{}, fmt.Errorf("read body: %w", err)
	}

	return domain.RawResponse{
		StatusCode: resp.StatusCode,
		Body:       body,
		FetchedAt:  c.clock.Now(),
	}, nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-c.clock.After(d):
	}
}

// classify maps a transport error to the budget it is charged against.
// Dial, DNS, and TLS handshake failures are connect failures; everything
// after the connection is up is a read or timeout failure.
func classify(err error) domain.TransportFailure {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return domain.ConnectFailure
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return domain.ConnectFailure
	}
	var recErr tls.RecordHeaderError
	if errors.As(err, &recErr) {
		return domain.ConnectFailure
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return domain.ConnectFailure
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.TimeoutFailure
	}
	return domain.ReadFailure
}

func retryLabel(kind domain.TransportFailure) string {
	if kind == domain.ConnectFailure {
		return "connect"
	}
	return "read"
}
