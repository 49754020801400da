package mapbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/couchcryptid/fireguard-alerts/internal/observability"
	"golang.org/x/sync/singleflight"
)

// Store is the shared key-value cache geocodes are kept in.
type Store interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CachedGeocoder puts the shared cache in front of a Geocoder so replicas
// reuse each other's lookups. Keys are coordinates rounded to three decimals
// (about 100 m). Concurrent misses for one cell make a single upstream call.
type CachedGeocoder struct {
	inner   domain.Geocoder
	store   Store
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewCachedGeocoder wraps inner with store.
func NewCachedGeocoder(inner domain.Geocoder, store Store, ttl time.Duration, logger *slog.Logger, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{inner: inner, store: store, ttl: ttl, logger: logger, metrics: metrics}
}

// CacheKey is the cache key of the cell containing lat, lon.
func CacheKey(lat, lon float64) string {
	return fmt.Sprintf("geocode:%.3f:%.3f", lat, lon)
}

func (c *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	key := CacheKey(lat, lon)

	var cached domain.GeocodingResult
	ok, err := c.store.Get(ctx, key, &cached)
	if err != nil {
		// Cache errors fall through to the upstream lookup.
		c.logger.Warn("geocode cache read failed", "key", key, "error", err)
	} else if ok {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return cached, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do(key, func() (any, error) {
		res, err := c.inner.ReverseGeocode(ctx, lat, lon)
		if err != nil {
			return res, err
		}
		// Empty results are not stored so a transient "no features" is retried.
		if res.FormattedAddress != "" {
			if err := c.store.Set(ctx, key, res, c.ttl); err != nil {
				c.logger.Warn("geocode cache write failed", "key", key, "error", err)
			}
		}
		return res, nil
	})
	res, _ := v.(domain.GeocodingResult)
	return res, err
}
