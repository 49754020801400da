package mapbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/couchcryptid/fireguard-alerts/internal/adapter/redis"
	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/couchcryptid/fireguard-alerts/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingGeocoder struct {
	calls   atomic.Int32
	result  domain.GeocodingResult
	err     error
	release chan struct{} // when set, lookups wait on it
}

func (g *countingGeocoder) ReverseGeocode(context.Context, float64, float64) (domain.GeocodingResult, error) {
	g.calls.Add(1)
	if g.release != nil {
		<-g.release
	}
	return g.result, g.err
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string, any) (bool, error) {
	return false, errors.New("connection refused")
}

func (brokenStore) Set(context.Context, string, any, time.Duration) error {
	return errors.New("connection refused")
}

func newCached(t *testing.T, inner domain.Geocoder) (*CachedGeocoder, *miniredis.Miniredis, *observability.Metrics) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = client.Close() })
	metrics := observability.NewMetricsForTesting()
	return NewCachedGeocoder(inner, redis.NewCache(client, "test"), 24*time.Hour, discardLogger(), metrics), mr, metrics
}

func TestCachedGeocoder_HitWithinCell(t *testing.T) {
	inner := &countingGeocoder{result: domain.GeocodingResult{FormattedAddress: "Manavgat, Antalya", PlaceName: "Manavgat"}}
	cached, mr, metrics := newCached(t, inner)

	r1, err := cached.ReverseGeocode(context.Background(), 36.7900, 31.4400)
	require.NoError(t, err)
	r2, err := cached.ReverseGeocode(context.Background(), 36.7901, 31.4401)
	require.NoError(t, err)

	assert.Equal(t, r1, r2)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("hit")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("miss")), 0)
	assert.Equal(t, 24*time.Hour, mr.TTL("test:"+CacheKey(36.79, 31.44)))
}

func TestCachedGeocoder_SharedAcrossInstances(t *testing.T) {
	inner := &countingGeocoder{result: domain.GeocodingResult{FormattedAddress: "Marmaris, Muğla"}}
	first, mr, _ := newCached(t, inner)

	_, err := first.ReverseGeocode(context.Background(), 36.85, 28.27)
	require.NoError(t, err)

	// A second replica pointed at the same redis never calls upstream.
	client := redis.NewClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = client.Close() })
	other := &countingGeocoder{}
	second := NewCachedGeocoder(other, redis.NewCache(client, "test"), time.Hour, discardLogger(), observability.NewMetricsForTesting())

	res, err := second.ReverseGeocode(context.Background(), 36.85, 28.27)
	require.NoError(t, err)
	assert.Equal(t, "Marmaris, Muğla", res.FormattedAddress)
	assert.Zero(t, other.calls.Load())
}

func TestCachedGeocoder_EmptyResultNotStored(t *testing.T) {
	inner := &countingGeocoder{}
	cached, _, _ := newCached(t, inner)

	for range 2 {
		res, err := cached.ReverseGeocode(context.Background(), 35.5, 33.0)
		require.NoError(t, err)
		assert.Empty(t, res.FormattedAddress)
	}
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedGeocoder_ErrorNotStored(t *testing.T) {
	inner := &countingGeocoder{err: errors.New("mapbox API error: status 503")}
	cached, mr, _ := newCached(t, inner)

	_, err := cached.ReverseGeocode(context.Background(), 36.79, 31.44)
	require.Error(t, err)
	assert.False(t, mr.Exists("test:"+CacheKey(36.79, 31.44)))
}

func TestCachedGeocoder_CollapsesConcurrentMisses(t *testing.T) {
	inner := &countingGeocoder{
		result:  domain.GeocodingResult{FormattedAddress: "Manavgat, Antalya"},
		release: make(chan struct{}),
	}
	cached, _, _ := newCached(t, inner)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]domain.GeocodingResult, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := cached.ReverseGeocode(context.Background(), 36.79, 31.44)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	require.Eventually(t, func() bool { return inner.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond) // let the other callers join the in-flight lookup
	close(inner.release)
	wg.Wait()

	assert.LessOrEqual(t, inner.calls.Load(), int32(2))
	for _, r := range results {
		assert.Equal(t, "Manavgat, Antalya", r.FormattedAddress)
	}
}

func TestCachedGeocoder_StoreDownFallsThrough(t *testing.T) {
	inner := &countingGeocoder{result: domain.GeocodingResult{FormattedAddress: "Kaş, Antalya"}}
	cached := NewCachedGeocoder(inner, brokenStore{}, time.Hour, discardLogger(), observability.NewMetricsForTesting())

	res, err := cached.ReverseGeocode(context.Background(), 36.2, 29.64)
	require.NoError(t, err)
	assert.Equal(t, "Kaş, Antalya", res.FormattedAddress)
}
