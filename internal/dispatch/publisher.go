package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/couchcryptid/fireguard-alerts/internal/observability"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrUnconfirmed is returned when the broker nacks a publish or does not
// confirm it in time.
var ErrUnconfirmed = errors.New("publish not confirmed")

// confirmWaiter blocks until the broker acks or nacks one publishing.
type confirmWaiter interface {
	WaitContext(ctx context.Context) (bool, error)
}

// confirmChannel is a channel in confirm mode.
type confirmChannel interface {
	publish(ctx context.Context, routingKey string, msg amqp.Publishing) (confirmWaiter, error)
	Close() error
}

type amqpConfirmChannel struct {
	*amqp.Channel
}

func (c amqpConfirmChannel) publish(ctx context.Context, routingKey string, msg amqp.Publishing) (confirmWaiter, error) {
	dc, err := c.PublishWithDeferredConfirmWithContext(ctx, Exchange, routingKey, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, errors.New("channel not in confirm mode")
	}
	return dc, nil
}

// Publisher sends notification messages with publisher confirms.
type Publisher struct {
	conn           *amqp.Connection
	ch             confirmChannel
	mu             sync.Mutex
	confirmTimeout time.Duration
	metrics        *observability.Metrics
}

// Dial connects to the broker.
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	return conn, nil
}

// NewPublisher opens a confirm-mode channel on conn and declares the topology.
func NewPublisher(conn *amqp.Connection, confirmTimeout time.Duration, metrics *observability.Metrics) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := DeclareTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return newPublisher(conn, amqpConfirmChannel{ch}, confirmTimeout, metrics), nil
}

func newPublisher(conn *amqp.Connection, ch confirmChannel, confirmTimeout time.Duration, metrics *observability.Metrics) *Publisher {
	return &Publisher{conn: conn, ch: ch, confirmTimeout: confirmTimeout, metrics: metrics}
}

// Publish sends msg to its channel queue and waits for the broker's confirm.
func (p *Publisher) Publish(ctx context.Context, msg domain.NotificationMessage) error {
	pub, err := toPublishing(msg)
	if err != nil {
		return err
	}

	start := time.Now()
	p.mu.Lock()
	dc, err := p.ch.publish(ctx, RoutingKey(msg.Channel, msg.Priority), pub)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish %s notification: %w", msg.Channel, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()
	acked, err := dc.WaitContext(waitCtx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnconfirmed, err)
	}
	if !acked {
		return fmt.Errorf("%w: broker nack", ErrUnconfirmed)
	}
	p.metrics.PublishConfirmDuration.Observe(time.Since(start).Seconds())
	return nil
}

func toPublishing(msg domain.NotificationMessage) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode notification: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     domain.BrokerPriority(msg.Priority),
		MessageId:    uuid.NewString(),
		Timestamp:    msg.CreatedAt,
		Headers: amqp.Table{
			"channel":       string(msg.Channel),
			"user_alert_id": msg.UserAlertID.String(),
			"fire_alert_id": msg.Metadata.FireAlertID.String(),
			"retry_count":   int32(msg.RetryCount),
		},
		Body: body,
	}, nil
}

// CheckReadiness reports whether the broker connection is open.
func (p *Publisher) CheckReadiness(context.Context) error {
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

// Close closes the publish channel. The connection is owned by the caller.
func (p *Publisher) Close() error {
	return p.ch.Close()
}
