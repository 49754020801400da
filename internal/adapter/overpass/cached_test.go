package overpass

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	rediscache "github.com/couchcryptid/fireguard-alerts/internal/adapter/redis"
	"github.com/couchcryptid/fireguard-alerts/internal/observability"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProximity struct {
	calls int
	err   error
}

func (p *countingProximity) IsInForest(context.Context, float64, float64) (bool, error) {
	p.calls++
	return true, p.err
}

func (p *countingProximity) IsInSettlement(context.Context, float64, float64) (bool, error) {
	p.calls++
	return false, p.err
}

func (p *countingProximity) NearestForestDistanceKm(context.Context, float64, float64) (float64, error) {
	p.calls++
	return 0, p.err
}

func (p *countingProximity) NearestSettlementDistanceKm(context.Context, float64, float64) (float64, error) {
	p.calls++
	return 12.5, p.err
}

func newTestCache(t *testing.T) (*rediscache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return rediscache.NewCache(client, "test"), mr
}

func TestCached_ServesRepeatLookupsFromCache(t *testing.T) {
	cache, mr := newTestCache(t)
	inner := &countingProximity{}
	c := NewCached(inner, cache, discardLogger(), observability.NewMetricsForTesting())
	ctx := context.Background()

	for range 3 {
		km, err := c.NearestSettlementDistanceKm(ctx, 39.93001, 32.86001)
		require.NoError(t, err)
		assert.InDelta(t, 12.5, km, 0)
	}
	assert.Equal(t, 1, inner.calls)
	assert.True(t, mr.Exists("test:geodata:settlement_distance:39.9300:32.8600"))

	in, err := c.IsInSettlement(ctx, 39.93, 32.86)
	require.NoError(t, err)
	assert.False(t, in)
	in, err = c.IsInSettlement(ctx, 39.93, 32.86)
	require.NoError(t, err)
	assert.False(t, in)
	assert.Equal(t, 2, inner.calls, "false answers are cached too")
}

func TestCached_DoesNotCacheErrors(t *testing.T) {
	cache, _ := newTestCache(t)
	inner := &countingProximity{err: errors.New("timeout")}
	c := NewCached(inner, cache, discardLogger(), observability.NewMetricsForTesting())

	_, err := c.IsInForest(context.Background(), 39.93, 32.86)
	require.Error(t, err)
	_, err = c.IsInForest(context.Background(), 39.93, 32.86)
	require.Error(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCached_FallsThroughWhenCacheDown(t *testing.T) {
	cache, mr := newTestCache(t)
	mr.Close()
	inner := &countingProximity{}
	c := NewCached(inner, cache, discardLogger(), observability.NewMetricsForTesting())

	in, err := c.IsInForest(context.Background(), 39.93, 32.86)
	require.NoError(t, err)
	assert.True(t, in)
}
