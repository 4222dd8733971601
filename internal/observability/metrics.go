package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for a run.
type Metrics struct {
	CodesProcessed  prometheus.Counter
	PipelineRunning prometheus.Gauge

	// Fetch metrics.
	FetchRequests  *prometheus.CounterVec // labels: outcome={ok,status,transport,decode}
	FetchRetries   *prometheus.CounterVec // labels: kind={connect,read}
	FetchDuration  prometheus.Histogram
	UpstreamStatus *prometheus.CounterVec // labels: code

	// Record metrics.
	ItemsNormalized prometheus.Counter
	DatesClamped    *prometheus.CounterVec // labels: reason={unparsed,before_min,after_now}

	SinkErrors *prometheus.CounterVec // labels: sink
}

const namespace = "grts_etl"

func newMetrics() *Metrics {
	return &Metrics{
		CodesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codes_processed_total",
			Help:      "HUC12 codes with a completed fetch attempt.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "GRTS fetches by outcome.",
		}, []string{"outcome"}),
		FetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Transport-level retries by failure kind.",
		}, []string{"kind"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Wall time of one fetch including transport retries.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		UpstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_status_total",
			Help:      "HTTP status codes returned by GRTS.",
		}, []string{"code"}),
		ItemsNormalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_normalized_total",
			Help:      "Project items passed through date normalization.",
		}),
		DatesClamped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dates_clamped_total",
			Help:      "Project start dates rewritten by the normalizer, by reason.",
		}, []string{"reason"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed sink writes or closes, by sink.",
		}, []string{"sink"}),
	}
}

// NewMetrics creates and registers all run metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.CodesProcessed,
		m.PipelineRunning,
		m.FetchRequests,
		m.FetchRetries,
		m.FetchDuration,
		m.UpstreamStatus,
		m.ItemsNormalized,
		m.DatesClamped,
		m.SinkErrors,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests can
// build as many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
