package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidCoordinates(t *testing.T) {
	assert.True(t, ValidCoordinates(0, 0))
	assert.True(t, ValidCoordinates(-90, 180))
	assert.False(t, ValidCoordinates(90.01, 0))
	assert.False(t, ValidCoordinates(0, -180.5))
	assert.False(t, Point{Lat: 91, Lon: 0}.Valid())
}

func TestDistanceKm(t *testing.T) {
	// Ankara to Istanbul is roughly 350 km great-circle.
	d := DistanceKm(39.93, 32.86, 41.01, 28.98)
	assert.InDelta(t, 350, d, 10)
	assert.InDelta(t, 0, DistanceKm(10, 10, 10, 10), 1e-9)
}

func TestBoundingBoxAround(t *testing.T) {
	b := BoundingBoxAround(0, 0, 111)
	assert.InDelta(t, -1, b.West, 0.01)
	assert.InDelta(t, -1, b.South, 0.01)
	assert.InDelta(t, 1, b.East, 0.01)
	assert.InDelta(t, 1, b.North, 0.01)
	assert.Equal(t, "-1.0000,-1.0000,1.0000,1.0000", b.String())

	// Longitude span widens away from the equator.
	north := BoundingBoxAround(60, 0, 111)
	assert.InDelta(t, 2, north.East, 0.01)

	clamped := BoundingBoxAround(-15, -60, 2500)
	assert.GreaterOrEqual(t, clamped.South, -90.0)
	assert.True(t, clamped.Contains(-15, -60))
}
