// Package geofence turns detection events into per-user alerts: it finds the
// users near a fire, picks the alert rule for each, suppresses repeats and
// stores what is left for dispatch.
package geofence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/dispatch"
	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/couchcryptid/fireguard-alerts/internal/observability"
	"github.com/google/uuid"
)

const (
	usersInRadiusTTL = 5 * time.Minute
	suppressionTTL   = time.Hour
	userLocationTTL  = 30 * time.Minute
)

// Store is the user and user-alert storage the engine needs.
type Store interface {
	UsersWithinRadius(ctx context.Context, lat, lon, radiusKm float64) ([]domain.UserLocation, error)
	ActiveRules(ctx context.Context) ([]domain.AlertRule, error)
	UserAlertExists(ctx context.Context, userID, fireAlertID uuid.UUID) (bool, error)
	InsertUserAlerts(ctx context.Context, alerts []domain.UserAlert) ([]domain.UserAlert, error)
	UndeliveredUserAlerts(ctx context.Context, fireAlertID uuid.UUID) ([]domain.UserAlert, error)
	UpdateUserLocation(ctx context.Context, userID uuid.UUID, lat, lon float64, at time.Time) error
}

// Alerts creates or reuses the fire alert for a detection.
type Alerts interface {
	CreateOrReuse(ctx context.Context, evt domain.DetectionCreated) (domain.FireAlert, bool, error)
}

// Cache is the shared key-value cache, including the atomic claim used for
// suppression.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Remove(ctx context.Context, keys ...string) error
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Boundary decides whether a coordinate is inside the served country.
type Boundary interface {
	Contains(lat, lon float64) bool
}

// Options tunes fan-out.
type Options struct {
	RadiusKm      float64
	MinConfidence float64
}

// Engine fans detection events out to nearby users.
type Engine struct {
	store    Store
	alerts   Alerts
	cache    Cache
	boundary Boundary
	opts     Options
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewEngine creates an Engine. A nil boundary accepts every valid coordinate.
func NewEngine(store Store, alerts Alerts, cache Cache, boundary Boundary, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		store:    store,
		alerts:   alerts,
		cache:    cache,
		boundary: boundary,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
	}
}

// Handle processes one DetectionCreated event. The returned batch holds the
// user alerts created by this call. When the fire alert already existed (a
// redelivered event) it also holds that alert's user alerts no channel has
// delivered yet, so a batch lost before dispatch is sent again. The batch is
// empty when the detection is below the alert threshold or nobody is left to
// notify. Invalid events return an error wrapping domain.ErrInvalidEvent.
func (e *Engine) Handle(ctx context.Context, evt domain.DetectionCreated) (dispatch.Batch, error) {
	if err := evt.Validate(); err != nil {
		return dispatch.Batch{}, err
	}
	if evt.Confidence < e.opts.MinConfidence {
		e.logger.Debug("detection below alert threshold",
			"detection_id", evt.DetectionID, "confidence", evt.Confidence)
		return dispatch.Batch{}, nil
	}

	alert, created, err := e.alerts.CreateOrReuse(ctx, evt)
	if err != nil {
		return dispatch.Batch{}, fmt.Errorf("fire alert: %w", err)
	}
	var pending []domain.UserAlert
	if !created {
		pending = e.undelivered(ctx, alert.ID)
	}

	users, err := e.usersInRadius(ctx, evt.Latitude, evt.Longitude)
	if err != nil {
		return dispatch.Batch{}, err
	}
	if len(users) == 0 {
		return dispatch.Batch{Alert: alert, UserAlerts: pending}, nil
	}

	rules, err := e.store.ActiveRules(ctx)
	if err != nil {
		return dispatch.Batch{}, err
	}

	candidates, claims := e.buildUserAlerts(ctx, evt, alert, users, rules)
	if len(candidates) == 0 {
		return dispatch.Batch{Alert: alert, UserAlerts: pending}, nil
	}

	inserted, err := e.store.InsertUserAlerts(ctx, candidates)
	if err != nil {
		e.release(ctx, claims...)
		return dispatch.Batch{}, fmt.Errorf("store user alerts: %w", err)
	}
	if len(inserted) < len(candidates) {
		e.release(ctx, skippedClaims(candidates, inserted, evt)...)
	}

	e.metrics.UserAlertsCreated.Add(float64(len(inserted)))
	e.logger.Info("user alerts created",
		"fire_alert_id", alert.ID, "detection_id", evt.DetectionID,
		"users_in_range", len(users), "created", len(inserted), "redispatched", len(pending))
	return dispatch.Batch{Alert: alert, UserAlerts: append(pending, inserted...)}, nil
}

// undelivered loads the user alerts of a reused fire alert that are still
// waiting for delivery.
func (e *Engine) undelivered(ctx context.Context, fireAlertID uuid.UUID) []domain.UserAlert {
	pending, err := e.store.UndeliveredUserAlerts(ctx, fireAlertID)
	if err != nil {
		e.logger.Warn("load undelivered user alerts failed", "fire_alert_id", fireAlertID, "error", err)
		return nil
	}
	if len(pending) > 0 {
		e.logger.Info("redispatching undelivered user alerts", "fire_alert_id", fireAlertID, "count", len(pending))
	}
	return pending
}

// buildUserAlerts resolves a rule per user and claims the suppression key.
// It returns the candidate rows and the claims taken for them.
func (e *Engine) buildUserAlerts(ctx context.Context, evt domain.DetectionCreated, alert domain.FireAlert, users []domain.UserLocation, rules []domain.AlertRule) ([]domain.UserAlert, []string) {
	var (
		out    []domain.UserAlert
		claims []string
	)
	now := domain.Now()
	for _, u := range users {
		distance := u.DistanceKm
		if distance == 0 {
			distance = domain.DistanceKm(evt.Latitude, evt.Longitude, u.Location.Lat, u.Location.Lon)
		}
		rule, ok := domain.ResolveRule(rules, u.Role, distance, evt.Confidence)
		if !ok {
			continue
		}

		exists, err := e.store.UserAlertExists(ctx, u.UserID, alert.ID)
		if err != nil {
			e.logger.Warn("user alert lookup failed, skipping user", "user_id", u.UserID, "error", err)
			continue
		}
		if exists {
			continue
		}

		key := SuppressionKey(u.UserID, evt.Latitude, evt.Longitude)
		claimed, err := e.cache.Claim(ctx, key, suppressionTTL)
		if err != nil {
			e.logger.Warn("suppression claim failed, skipping user", "user_id", u.UserID, "error", err)
			continue
		}
		if !claimed {
			e.metrics.AlertsSuppressed.Inc()
			continue
		}
		claims = append(claims, key)

		out = append(out, domain.UserAlert{
			ID:                 uuid.New(),
			FireAlertID:        alert.ID,
			UserID:             u.UserID,
			UserRole:           u.Role,
			UserLocation:       u.Location,
			DistanceKm:         distance,
			Message:            userMessage(rule, distance, evt, alert.LocationLabel),
			CanProvideFeedback: rule.AllowFeedback,
			CreatedAt:          now,
		})
	}
	return out, claims
}

func userMessage(rule domain.AlertRule, distance float64, evt domain.DetectionCreated, location string) string {
	if rule.MessageTemplate == "" {
		return domain.DefaultUserMessage(distance, evt.Confidence)
	}
	return domain.RenderTemplate(rule.MessageTemplate, domain.TemplateValues{
		DistanceKm: distance,
		Confidence: evt.Confidence,
		Location:   location,
		At:         evt.DetectedAt,
	})
}

// usersInRadius returns the users around a point. Non-empty results are cached.
func (e *Engine) usersInRadius(ctx context.Context, lat, lon float64) ([]domain.UserLocation, error) {
	key := fmt.Sprintf("users_in_radius:%.2f:%.2f:%g", lat, lon, e.opts.RadiusKm)

	var cached []domain.UserLocation
	if ok, err := e.cache.Get(ctx, key, &cached); err != nil {
		e.logger.Warn("read users cache failed", "error", err)
	} else if ok {
		return cached, nil
	}

	users, err := e.store.UsersWithinRadius(ctx, lat, lon, e.opts.RadiusKm)
	if err != nil {
		return nil, err
	}
	if len(users) > 0 {
		if err := e.cache.Set(ctx, key, users, usersInRadiusTTL); err != nil {
			e.logger.Warn("write users cache failed", "error", err)
		}
	}
	return users, nil
}

func (e *Engine) release(ctx context.Context, keys ...string) {
	if err := e.cache.Remove(ctx, keys...); err != nil {
		e.logger.Warn("release suppression claims failed", "error", err, "count", len(keys))
	}
}

func skippedClaims(candidates, inserted []domain.UserAlert, evt domain.DetectionCreated) []string {
	kept := make(map[uuid.UUID]bool, len(inserted))
	for _, ua := range inserted {
		kept[ua.ID] = true
	}
	var keys []string
	for _, ua := range candidates {
		if !kept[ua.ID] {
			keys = append(keys, SuppressionKey(ua.UserID, evt.Latitude, evt.Longitude))
		}
	}
	return keys
}

// SuppressionKey identifies a recent alert for a user near a coordinate.
func SuppressionKey(userID uuid.UUID, lat, lon float64) string {
	return fmt.Sprintf("recent_alert:%s:%.1f:%.1f", userID, lat, lon)
}

// UpdateLocation records a user's current position after checking it is a
// valid coordinate inside the served country.
func (e *Engine) UpdateLocation(ctx context.Context, userID uuid.UUID, lat, lon float64) (domain.UserLocation, error) {
	if !domain.ValidCoordinates(lat, lon) {
		return domain.UserLocation{}, domain.ErrInvalidCoordinates
	}
	if e.boundary != nil && !e.boundary.Contains(lat, lon) {
		return domain.UserLocation{}, domain.ErrOutsideBoundary
	}

	now := domain.Now()
	if err := e.store.UpdateUserLocation(ctx, userID, lat, lon, now); err != nil {
		return domain.UserLocation{}, err
	}

	loc := domain.UserLocation{
		UserID:      userID,
		Location:    domain.Point{Lat: lat, Lon: lon},
		LastUpdated: now,
		Active:      true,
	}
	if err := e.cache.Set(ctx, UserLocationKey(userID), loc, userLocationTTL); err != nil {
		e.logger.Warn("cache user location failed", "user_id", userID, "error", err)
	}
	return loc, nil
}

// CachedLocation returns the last location update cached for a user.
func (e *Engine) CachedLocation(ctx context.Context, userID uuid.UUID) (domain.UserLocation, bool, error) {
	var loc domain.UserLocation
	ok, err := e.cache.Get(ctx, UserLocationKey(userID), &loc)
	return loc, ok, err
}

// UserLocationKey is the cache key of a user's last known position.
func UserLocationKey(userID uuid.UUID) string {
	return "user_location:" + userID.String()
}
