// Package events publishes and consumes media lifecycle events over Kafka.
// Event delivery is best-effort: a broker outage never fails an upload.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewProducer(broker, topic string, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers: []string{broker},
		Topic:   topic,
	})
	return &Producer{writer: w, logger: logger.With(slog.String("service", "events"))}
}

// MediaIngested announces a newly stored record. The message value is the
// record id; consumers look the record up themselves.
func (p *Producer) MediaIngested(ctx context.Context, id uuid.UUID) error {
	const op = "events.MediaIngested"

	err := p.writer.WriteMessages(ctx, kafka.Message{Value: []byte(id.String())})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Handler processes one consumed media id.
type Handler func(ctx context.Context, id string) error

// RunConsumer reads ingest events until the context is cancelled, invoking
// the handler for each. Handler failures are logged and skipped; the loop
// never stops on a bad record.
func RunConsumer(ctx context.Context, broker, topic, group string, handle Handler, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("service", "events"))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   topic,
		GroupID: group,
	})
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("read message", slog.Any("error", err))
			continue
		}
		if err := handle(ctx, string(msg.Value)); err != nil {
			logger.Warn("handle ingest event",
				slog.String("id", string(msg.Value)), slog.Any("error", err))
		}
	}
}
