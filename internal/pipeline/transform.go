package pipeline

import (
	"log/slog"

	"github.com/couchcryptid/grts-huc-etl/internal/domain"
	"github.com/couchcryptid/grts-huc-etl/internal/observability"
)

// Normalizer bounds an item's project date.
type Normalizer interface {
	Normalize(item domain.Item) (domain.Item, domain.ClampReason)
}

// ItemTransformer implements Transformer with a date normalizer and records
// what it changed.
type ItemTransformer struct {
	normalizer Normalizer
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewTransformer creates an ItemTransformer.
func NewTransformer(n Normalizer, metrics *observability.Metrics, logger *slog.Logger) *ItemTransformer {
	return &ItemTransformer{
		normalizer: n,
		metrics:    metrics,
		logger:     logger,
	}
}

func (t *ItemTransformer) Transform(item domain.Item) domain.Item {
	out, reason := t.normalizer.Normalize(item)
	t.metrics.ItemsNormalized.Inc()
	if reason != domain.DateUnchanged {
		t.metrics.DatesClamped.WithLabelValues(string(reason)).Inc()
		t.logger.Debug("project date clamped",
			"reason", string(reason),
			"raw", item[domain.DateField],
			"date", out[domain.DateField],
		)
	}
	return out
}
