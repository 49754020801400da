package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/couchcryptid/fireguard-alerts/internal/observability"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/semaphore"
)

// MaxRetries is the number of delivery attempts before a message is dead-lettered.
const MaxRetries = 3

// Transport delivers a notification on one channel.
type Transport interface {
	Channel() domain.Channel
	Deliver(ctx context.Context, msg domain.NotificationMessage) error
}

// DeliveryRecorder stamps successful deliveries.
type DeliveryRecorder interface {
	MarkDelivered(ctx context.Context, userAlertID uuid.UUID, at time.Time) error
}

// acknowledger is implemented by amqp.Delivery.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Consumer drains one channel queue into its transport.
type Consumer struct {
	conn        *amqp.Connection
	transport   Transport
	republisher MessagePublisher
	recorder    DeliveryRecorder
	prefetch    int
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewConsumer creates a consumer for transport's channel queue. Failed
// deliveries are re-queued through republisher.
func NewConsumer(conn *amqp.Connection, transport Transport, republisher MessagePublisher, recorder DeliveryRecorder, prefetch int, logger *slog.Logger, metrics *observability.Metrics) *Consumer {
	return &Consumer{
		conn:        conn,
		transport:   transport,
		republisher: republisher,
		recorder:    recorder,
		prefetch:    max(1, prefetch),
		logger:      logger.With("channel", string(transport.Channel())),
		metrics:     metrics,
	}
}

// Run consumes until ctx is cancelled, then cancels the subscription and
// waits for in-flight deliveries.
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	queue := QueueName(c.transport.Channel())
	tag := "fireguard-" + string(c.transport.Channel()) + "-" + uuid.NewString()[:8]
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}
	c.logger.Info("consumer started", "queue", queue, "prefetch", c.prefetch)

	sem := semaphore.NewWeighted(int64(c.prefetch))
	var wg sync.WaitGroup
	// Handlers finish their current message even after shutdown starts.
	handleCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			if err := ch.Cancel(tag, false); err != nil {
				c.logger.Warn("cancel consumer failed", "error", err)
			}
			wg.Wait()
			c.logger.Info("consumer stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				wg.Wait()
				return errors.New("delivery channel closed")
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				_ = d.Nack(false, true)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.Release(1)
				c.handle(handleCtx, d.Body, d)
			}()
		}
	}
}

// handle delivers one message and settles it with the broker.
func (c *Consumer) handle(ctx context.Context, body []byte, ack acknowledger) {
	channel := string(c.transport.Channel())

	var msg domain.NotificationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Error("undecodable notification, rejecting", "error", err)
		c.metrics.NotificationsDelivered.WithLabelValues(channel, "rejected").Inc()
		c.settle(ack.Nack(false, false))
		return
	}

	err := c.transport.Deliver(ctx, msg)
	if err == nil {
		c.settle(ack.Ack(false))
		c.metrics.NotificationsDelivered.WithLabelValues(channel, "success").Inc()
		if err := c.recorder.MarkDelivered(ctx, msg.UserAlertID, domain.Now()); err != nil {
			c.logger.Warn("mark delivered failed", "user_alert_id", msg.UserAlertID, "error", err)
		}
		return
	}

	if permanent(err) {
		c.logger.Error("notification undeliverable, dead-lettering without retry",
			"user_alert_id", msg.UserAlertID, "user_id", msg.UserID, "error", err)
		c.metrics.NotificationsDelivered.WithLabelValues(channel, "undeliverable").Inc()
		c.settle(ack.Nack(false, false))
		return
	}

	next := msg.RetryCount + 1
	if next >= MaxRetries {
		c.logger.Error("notification dead-lettered",
			"user_alert_id", msg.UserAlertID, "user_id", msg.UserID, "attempts", next, "error", err)
		c.metrics.NotificationsDelivered.WithLabelValues(channel, "dead_letter").Inc()
		c.settle(ack.Nack(false, false))
		return
	}

	msg.RetryCount = next
	if perr := c.republisher.Publish(ctx, msg); perr != nil {
		c.logger.Warn("retry republish failed, requeueing",
			"user_alert_id", msg.UserAlertID, "error", perr)
		c.settle(ack.Nack(false, true))
		return
	}
	c.logger.Warn("notification delivery failed, retrying",
		"user_alert_id", msg.UserAlertID, "retry_count", next, "error", err)
	c.metrics.NotificationsDelivered.WithLabelValues(channel, "retry").Inc()
	c.settle(ack.Ack(false))
}

// permanent reports failures a retry cannot fix: the user is gone or has no
// address for the channel.
func permanent(err error) bool {
	return errors.Is(err, ErrNoAddress) || errors.Is(err, domain.ErrNotFound)
}

func (c *Consumer) settle(err error) {
	if err != nil {
		c.logger.Warn("settle delivery failed", "error", err)
	}
}
