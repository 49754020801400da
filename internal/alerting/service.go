// Package alerting owns the FireAlert lifecycle: creation from detection
// events, crowd feedback, manual status changes and expiry.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/couchcryptid/fireguard-alerts/internal/observability"
	"github.com/google/uuid"
)

// KeyActiveAlerts caches the active alert list.
const KeyActiveAlerts = "active_fire_alerts"

const (
	activeAlertsTTL   = 5 * time.Minute
	activeAlertsLimit = 100
)

// Store persists fire alerts and their feedback.
type Store interface {
	FindOpenAlert(ctx context.Context, detectionID uuid.UUID) (domain.FireAlert, error)
	CreateFireAlert(ctx context.Context, a domain.FireAlert) (domain.FireAlert, bool, error)
	GetFireAlert(ctx context.Context, id uuid.UUID) (domain.FireAlert, error)
	ActiveAlerts(ctx context.Context, limit int) ([]domain.FireAlert, error)
	ExpireAlerts(ctx context.Context, now time.Time) (int64, error)
	UpdateAlertStatus(ctx context.Context, id uuid.UUID, status domain.AlertStatus, now time.Time) (bool, error)
	RecordFeedback(ctx context.Context, alertID, userID uuid.UUID, verdict domain.FeedbackType, now time.Time) (domain.FireAlert, error)
	MarkRead(ctx context.Context, userAlertID, userID uuid.UUID, at time.Time) (bool, error)
	ListUserAlerts(ctx context.Context, userID uuid.UUID, onlyUnread bool) ([]domain.UserAlert, error)
}

// Cache is the shared key-value cache.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Remove(ctx context.Context, keys ...string) error
}

// Service manages fire alerts.
type Service struct {
	store    Store
	cache    Cache
	geocoder domain.Geocoder
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewService creates a Service. A nil geocoder labels alerts by coordinates.
func NewService(store Store, cache Cache, geocoder domain.Geocoder, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{store: store, cache: cache, geocoder: geocoder, logger: logger, metrics: metrics}
}

// CreateOrReuse returns the open alert for the event's detection, creating it
// if none exists. created is false when an existing alert was reused.
func (s *Service) CreateOrReuse(ctx context.Context, evt domain.DetectionCreated) (alert domain.FireAlert, created bool, err error) {
	existing, err := s.store.FindOpenAlert(ctx, evt.DetectionID)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, domain.ErrNotFound):
		return domain.FireAlert{}, false, fmt.Errorf("find open alert: %w", err)
	}

	label := domain.LocationLabel(ctx, s.geocoder, evt.Latitude, evt.Longitude, s.logger)
	alert, created, err = s.store.CreateFireAlert(ctx, domain.NewFireAlert(evt, label))
	if err != nil {
		return domain.FireAlert{}, false, err
	}
	if created {
		s.metrics.FireAlertsCreated.Inc()
		s.invalidate(ctx)
		s.logger.Info("fire alert created",
			"fire_alert_id", alert.ID, "detection_id", evt.DetectionID,
			"severity", alert.Severity.String(), "location", label)
	}
	return alert, created, nil
}

// Get loads one alert.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.FireAlert, error) {
	return s.store.GetFireAlert(ctx, id)
}

// ActiveAlerts lists open alerts, most severe first. The list is cached.
func (s *Service) ActiveAlerts(ctx context.Context) ([]domain.FireAlert, error) {
	var cached []domain.FireAlert
	if ok, err := s.cache.Get(ctx, KeyActiveAlerts, &cached); err != nil {
		s.logger.Warn("read active alerts cache failed", "error", err)
	} else if ok {
		return cached, nil
	}

	alerts, err := s.store.ActiveAlerts(ctx, activeAlertsLimit)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, KeyActiveAlerts, alerts, activeAlertsTTL); err != nil {
		s.logger.Warn("write active alerts cache failed", "error", err)
	}
	return alerts, nil
}

// SubmitFeedback records a user's verdict and returns the re-aggregated alert.
func (s *Service) SubmitFeedback(ctx context.Context, alertID, userID uuid.UUID, verdict domain.FeedbackType) (domain.FireAlert, error) {
	alert, err := s.store.RecordFeedback(ctx, alertID, userID, verdict, domain.Now())
	if err != nil {
		return domain.FireAlert{}, err
	}
	s.invalidate(ctx)
	s.logger.Info("alert feedback recorded",
		"fire_alert_id", alertID, "user_id", userID, "verdict", string(verdict),
		"positive", alert.PositiveFeedbackCount, "negative", alert.NegativeFeedbackCount,
		"status", string(alert.Status))
	return alert, nil
}

// UpdateStatus sets an alert's status. It returns domain.ErrNotFound for an
// unknown alert.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.AlertStatus) error {
	ok, err := s.store.UpdateAlertStatus(ctx, id, status, domain.Now())
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	s.invalidate(ctx)
	return nil
}

// ExpireSweep retires open alerts past their expiry.
func (s *Service) ExpireSweep(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireAlerts(ctx, domain.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.AlertsExpired.Add(float64(n))
		s.invalidate(ctx)
		s.logger.Info("expired fire alerts", "count", n)
	}
	return n, nil
}

// MarkRead stamps a user alert as read. It returns domain.ErrNotFound when the
// user alert does not belong to userID.
func (s *Service) MarkRead(ctx context.Context, userAlertID, userID uuid.UUID) error {
	ok, err := s.store.MarkRead(ctx, userAlertID, userID, domain.Now())
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

// UserAlerts returns a user's inbox, newest first.
func (s *Service) UserAlerts(ctx context.Context, userID uuid.UUID, onlyUnread bool) ([]domain.UserAlert, error) {
	alerts, err := s.store.ListUserAlerts(ctx, userID, onlyUnread)
	if err != nil {
		return nil, fmt.Errorf("list user alerts: %w", err)
	}
	if alerts == nil {
		alerts = []domain.UserAlert{}
	}
	return alerts, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Remove(ctx, KeyActiveAlerts); err != nil {
		s.logger.Warn("invalidate active alerts cache failed", "error", err)
	}
}
