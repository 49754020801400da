// Package dispatch publishes per-user notifications to RabbitMQ and delivers
// them from per-channel queues through the push, email and SMS transports.
package dispatch

import (
	"fmt"
	"strings"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker names.
const (
	Exchange           = "fireguard.notifications"
	DeadLetterExchange = "fireguard.dlx"
	DeadLetterQueue    = "fireguard.notifications.dlq"

	maxPriority = 10
	messageTTL  = 24 * 60 * 60 * 1000 // ms
)

// QueueName is the work queue of a channel.
func QueueName(ch domain.Channel) string {
	return Exchange + "." + string(ch)
}

// RoutingKey addresses a message to a channel queue, e.g. notification.sms.critical.
func RoutingKey(ch domain.Channel, severity domain.AlertSeverity) string {
	return "notification." + string(ch) + "." + strings.ToLower(severity.String())
}

// topologyDeclarer is the subset of *amqp.Channel used to declare topology.
type topologyDeclarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// DeclareTopology creates the exchanges and queues. It is idempotent.
// The dead-letter exchange is a fanout so dead letters keep their original
// routing key and still reach the DLQ.
func DeclareTopology(ch topologyDeclarer) error {
	if err := ch.ExchangeDeclare(Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}
	if err := ch.ExchangeDeclare(DeadLetterExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", DeadLetterExchange, err)
	}
	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", DeadLetterQueue, err)
	}
	if err := ch.QueueBind(DeadLetterQueue, "", DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", DeadLetterQueue, err)
	}

	args := amqp.Table{
		"x-max-priority":         int32(maxPriority),
		"x-message-ttl":          int32(messageTTL),
		"x-dead-letter-exchange": DeadLetterExchange,
	}
	for _, c := range domain.AllChannels {
		q := QueueName(c)
		if _, err := ch.QueueDeclare(q, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
		if err := ch.QueueBind(q, "notification."+string(c)+".*", Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", q, err)
		}
	}
	return nil
}
