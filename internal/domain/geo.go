package domain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Valid reports whether the point lies within WGS84 bounds.
func (p Point) Valid() bool {
	return ValidCoordinates(p.Lat, p.Lon)
}

// ValidCoordinates reports whether lat is within [-90, 90] and lon within [-180, 180].
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// DistanceKm returns the great-circle distance between two coordinates in kilometres.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	return geo.DistanceHaversine(orb.Point{lon1, lat1}, orb.Point{lon2, lat2}) / 1000
}

// BoundingBox is an axis-aligned area in degrees.
type BoundingBox struct {
	West  float64
	South float64
	East  float64
	North float64
}

// BoundingBoxAround builds a box of radiusKm around a centre point. Longitude
// span widens with latitude; the result is clamped to valid coordinates.
func BoundingBoxAround(lat, lon, radiusKm float64) BoundingBox {
	latDelta := radiusKm / 111.0
	cosLat := math.Cos(lat * math.Pi / 180)
	lonDelta := 180.0
	if cosLat > 0.01 {
		lonDelta = radiusKm / (111.0 * cosLat)
	}
	return BoundingBox{
		West:  math.Max(-180, lon-lonDelta),
		South: math.Max(-90, lat-latDelta),
		East:  math.Min(180, lon+lonDelta),
		North: math.Min(90, lat+latDelta),
	}
}

// Contains reports whether the coordinate falls inside the box (inclusive).
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.South && lat <= b.North && lon >= b.West && lon <= b.East
}

// String formats the box as W,S,E,N, the order both satellite catalogs expect.
func (b BoundingBox) String() string {
	return fmt.Sprintf("%s,%s,%s,%s", formatDegrees(b.West), formatDegrees(b.South), formatDegrees(b.East), formatDegrees(b.North))
}

func formatDegrees(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
