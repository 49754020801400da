package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/couchcryptid/fireguard-alerts/internal/observability"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// MaxParallelism caps concurrent user sends in one batch.
const MaxParallelism = 10

// MessagePublisher publishes one notification and waits for its confirm.
type MessagePublisher interface {
	Publish(ctx context.Context, msg domain.NotificationMessage) error
}

// Dispatcher fans user alerts out to their severity's channels.
type Dispatcher struct {
	pub         MessagePublisher
	parallelism int
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewDispatcher creates a Dispatcher. parallelism is clamped to 1..10.
func NewDispatcher(pub MessagePublisher, parallelism int, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	parallelism = max(1, min(parallelism, MaxParallelism))
	return &Dispatcher{pub: pub, parallelism: parallelism, logger: logger, metrics: metrics}
}

// SendNotification publishes one message per channel for ua. It reports true
// only when every channel publish was confirmed.
func (d *Dispatcher) SendNotification(ctx context.Context, alert domain.FireAlert, ua domain.UserAlert) bool {
	ok := true
	for _, ch := range domain.ChannelsFor(alert.Severity) {
		err := d.pub.Publish(ctx, domain.NewNotificationMessage(alert, ua, ch))
		switch {
		case err == nil:
			d.metrics.NotificationsPublished.WithLabelValues(string(ch), "confirmed").Inc()
			continue
		case errors.Is(err, ErrUnconfirmed):
			d.metrics.NotificationsPublished.WithLabelValues(string(ch), "unconfirmed").Inc()
		default:
			d.metrics.NotificationsPublished.WithLabelValues(string(ch), "error").Inc()
		}
		ok = false
		d.logger.Warn("notification publish failed",
			"user_alert_id", ua.ID, "user_id", ua.UserID, "channel", string(ch), "error", err)
	}
	return ok
}

// SendBatch sends every user alert in b with bounded parallelism. A failed
// send never cancels its siblings. The result maps user alert id to success.
func (d *Dispatcher) SendBatch(ctx context.Context, b Batch) map[uuid.UUID]bool {
	start := time.Now()
	results := make(map[uuid.UUID]bool, len(b.UserAlerts))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(d.parallelism)
	for _, ua := range b.UserAlerts {
		g.Go(func() error {
			ok := d.SendNotification(ctx, b.Alert, ua)
			mu.Lock()
			results[ua.ID] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	d.metrics.DispatchBatchDuration.Observe(time.Since(start).Seconds())
	return results
}
