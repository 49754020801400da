package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/config"
	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Reader consumes DetectionCreated events from the detection topic.
// It implements pipeline.EventSource.
type Reader struct {
	reader        *kafkago.Reader
	flushInterval time.Duration
	logger        *slog.Logger
}

// NewReader creates a consumer-group reader for the configured detection topic.
// Offsets are committed explicitly through each envelope's Commit.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.DetectionTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		StartOffset:    kafkago.FirstOffset,
	})
	return &Reader{reader: r, flushInterval: cfg.BatchFlushInterval, logger: logger}
}

// ExtractBatch fetches up to n messages. It blocks for the first message, then
// returns whatever has arrived once the flush interval elapses. Payloads that
// cannot be decoded are returned with Err set so the caller can commit past them.
func (r *Reader) ExtractBatch(ctx context.Context, n int) ([]domain.EventEnvelope, error) {
	first, err := r.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	batch := make([]domain.EventEnvelope, 0, n)
	batch = append(batch, r.envelope(first))

	flushCtx, cancel := context.WithTimeout(ctx, r.flushInterval)
	defer cancel()
	for len(batch) < n {
		msg, err := r.reader.FetchMessage(flushCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			return batch, fmt.Errorf("fetch message: %w", err)
		}
		batch = append(batch, r.envelope(msg))
	}
	return batch, nil
}

func (r *Reader) envelope(msg kafkago.Message) domain.EventEnvelope {
	env := mapMessageToEnvelope(msg)
	env.Commit = func(ctx context.Context) error {
		return r.reader.CommitMessages(ctx, msg)
	}
	if env.Err != nil {
		r.logger.Warn("undecodable detection event",
			"partition", msg.Partition, "offset", msg.Offset, "error", env.Err)
	}
	return env
}

// CheckReadiness reports whether the reader has seen broker errors.
func (r *Reader) CheckReadiness(context.Context) error {
	if stats := r.reader.Stats(); stats.Errors > 0 {
		return fmt.Errorf("kafka reader: %d errors since last check", stats.Errors)
	}
	return nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessageToEnvelope decodes a Kafka message into an envelope without a
// commit callback.
func mapMessageToEnvelope(msg kafkago.Message) domain.EventEnvelope {
	env := domain.EventEnvelope{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}
	if err := json.Unmarshal(msg.Value, &env.Event); err != nil {
		env.Err = fmt.Errorf("%w: %w", domain.ErrInvalidEvent, err)
	}
	return env
}
