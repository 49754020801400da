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
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

const eventTypeDetectionCreated = "detection.created"

// Writer publishes DetectionCreated events to the detection topic.
// It implements ingest.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a synchronous producer for the configured detection topic.
// A sync run hands over all its events at once, so the batch timeout is short.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.DetectionTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchSize:    max(cfg.BatchSize, 1),
		BatchTimeout: 50 * time.Millisecond,
		Compression:  kafkago.Snappy,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishError reports the events a Publish call could not deliver. Events not
// listed were acknowledged by the broker.
type PublishError struct {
	DetectionIDs []uuid.UUID
	Err          error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish detection events: %d failed: %v", len(e.DetectionIDs), e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Undelivered lists the detections whose event the broker did not acknowledge.
func (e *PublishError) Undelivered() []uuid.UUID { return e.DetectionIDs }

// Publish writes events in one WriteMessages call, keyed by detection id so
// redeliveries of a detection stay on one partition. Any failure is returned
// as a *PublishError.
func (w *Writer) Publish(ctx context.Context, events ...domain.DetectionCreated) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := serializeToMessage(events[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}

	err := w.writer.WriteMessages(ctx, msgs...)
	if err == nil {
		w.logger.Debug("detection events published", "count", len(msgs))
		return nil
	}
	return publishError(events, err)
}

// publishError narrows a WriteMessages error to the events that failed.
func publishError(events []domain.DetectionCreated, err error) *PublishError {
	var perMessage kafkago.WriteErrors
	if !errors.As(err, &perMessage) {
		ids := make([]uuid.UUID, len(events))
		for i, evt := range events {
			ids[i] = evt.DetectionID
		}
		return &PublishError{DetectionIDs: ids, Err: err}
	}

	pe := &PublishError{}
	for i, msgErr := range perMessage {
		if msgErr == nil || i >= len(events) {
			continue
		}
		pe.DetectionIDs = append(pe.DetectionIDs, events[i].DetectionID)
		if pe.Err == nil {
			pe.Err = msgErr
		}
	}
	if pe.Err == nil {
		pe.Err = err
	}
	return pe
}

// Close flushes pending writes and closes the producer.
func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a DetectionCreated into a Kafka message.
func serializeToMessage(event domain.DetectionCreated) (kafkago.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize detection event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.DetectionID.String()),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(eventTypeDetectionCreated)},
			{Key: "source", Value: []byte(event.Source)},
			{Key: "detected_at", Value: []byte(event.DetectedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
