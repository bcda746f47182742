package kafka

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/geoposition-service/internal/config"
	"github.com/couchcryptid/geoposition-service/internal/domain"
)

// Writer produces messages to a Kafka topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: cfg.BatchFlushInterval,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch publishes the enriched positions to the sink topic in a single
// WriteMessages call. Keys are kept so a device's updates stay on one
// partition.
func (w *Writer) LoadBatch(ctx context.Context, out []domain.OutputMessage) error {
	if len(out) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(out))
	for i := range out {
		msgs[i] = serializeToMessage(out[i])
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage converts an OutputMessage, ordering headers by key.
func serializeToMessage(out domain.OutputMessage) kafkago.Message {
	msg := kafkago.Message{Key: out.Key, Value: out.Value}
	for _, k := range slices.Sorted(maps.Keys(out.Headers)) {
		msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(out.Headers[k])})
	}
	return msg
}
