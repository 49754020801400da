package overpass

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/observability"
)

// CacheTTL is how long land-cover answers are reused. Land use changes slowly.
const CacheTTL = 24 * time.Hour

// Cache is the subset of the shared cache the decorator needs.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Proximity is the set of lookups Cached decorates. *Client implements it.
type Proximity interface {
	IsInForest(ctx context.Context, lat, lon float64) (bool, error)
	IsInSettlement(ctx context.Context, lat, lon float64) (bool, error)
	NearestForestDistanceKm(ctx context.Context, lat, lon float64) (float64, error)
	NearestSettlementDistanceKm(ctx context.Context, lat, lon float64) (float64, error)
}

// Cached memoizes proximity lookups per coordinate rounded to four decimals.
type Cached struct {
	next    Proximity
	cache   Cache
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewCached wraps a proximity source with the shared cache.
func NewCached(next Proximity, cache Cache, logger *slog.Logger, metrics *observability.Metrics) *Cached {
	return &Cached{next: next, cache: cache, logger: logger, metrics: metrics}
}

func (c *Cached) IsInForest(ctx context.Context, lat, lon float64) (bool, error) {
	return cachedLookup(ctx, c, "forest", lat, lon, c.next.IsInForest)
}

func (c *Cached) IsInSettlement(ctx context.Context, lat, lon float64) (bool, error) {
	return cachedLookup(ctx, c, "settlement", lat, lon, c.next.IsInSettlement)
}

func (c *Cached) NearestForestDistanceKm(ctx context.Context, lat, lon float64) (float64, error) {
	return cachedLookup(ctx, c, "forest_distance", lat, lon, c.next.NearestForestDistanceKm)
}

func (c *Cached) NearestSettlementDistanceKm(ctx context.Context, lat, lon float64) (float64, error) {
	return cachedLookup(ctx, c, "settlement_distance", lat, lon, c.next.NearestSettlementDistanceKm)
}

// cachedLookup serves from cache when possible. Cache failures fall through
// to the live lookup; lookup errors are never cached.
func cachedLookup[T any](ctx context.Context, c *Cached, lookup string, lat, lon float64,
	fn func(ctx context.Context, lat, lon float64) (T, error),
) (T, error) {
	key := fmt.Sprintf("geodata:%s:%.4f:%.4f", lookup, lat, lon)

	var v T
	found, err := c.cache.Get(ctx, key, &v)
	if err != nil {
		c.logger.Warn("geodata cache read failed", "key", key, "error", err)
	}
	if found {
		c.metrics.GeodataCache.WithLabelValues(lookup, "hit").Inc()
		return v, nil
	}
	c.metrics.GeodataCache.WithLabelValues(lookup, "miss").Inc()

	v, err = fn(ctx, lat, lon)
	if err != nil {
		return v, err
	}
	if err := c.cache.Set(ctx, key, v, CacheTTL); err != nil {
		c.logger.Warn("geodata cache write failed", "key", key, "error", err)
	}
	return v, nil
}
