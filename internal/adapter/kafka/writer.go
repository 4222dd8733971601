// Package kafka publishes fetched GRTS responses to a Kafka topic.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/grts-huc-etl/internal/domain"
)

// Writer produces one message per fetched response.
// It implements sink.ResponseSink.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a producer for topic. Messages are keyed by HUC12, so all
// responses for one watershed land on the same partition.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

func (w *Writer) Name() string { return "kafka" }

// WriteResponse publishes resp synchronously.
func (w *Writer) WriteResponse(ctx context.Context, resp domain.UpstreamResponse) error {
	msg, err := serializeToMessage(resp)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", resp.Code.HUC12, err)
	}
	w.logger.Debug("response published", "huc12", resp.Code.HUC12, "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage turns a response into a Kafka message. The value is the
// same JSON document the file sinks write.
func serializeToMessage(resp domain.UpstreamResponse) (kafkago.Message, error) {
	value := resp.Body
	if len(value) == 0 {
		items := resp.Items
		if items == nil {
			items = []domain.Item{}
		}
		data, err := json.Marshal(map[string]any{"items": items})
		if err != nil {
			return kafkago.Message{}, fmt.Errorf("serialize response %s: %w", resp.Code.HUC12, err)
		}
		value = data
	}
	return kafkago.Message{
		Key:   []byte(resp.Code.HUC12),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "status_code", Value: []byte(strconv.Itoa(resp.StatusCode))},
			{Key: "fetched_at", Value: []byte(resp.FetchedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
