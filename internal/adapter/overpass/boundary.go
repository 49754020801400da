package overpass

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

//go:embed turkey.geojson
var defaultBoundary []byte

// Boundary is the served country's outline.
type Boundary struct {
	region orb.MultiPolygon
	bound  orb.Bound
}

// LoadBoundary reads a GeoJSON FeatureCollection of Polygon or MultiPolygon
// features from path. An empty path loads the built-in outline.
func LoadBoundary(path string) (*Boundary, error) {
	if path == "" {
		return ParseBoundary(defaultBoundary)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read boundary: %w", err)
	}
	return ParseBoundary(data)
}

// ParseBoundary decodes a GeoJSON FeatureCollection into a boundary.
func ParseBoundary(data []byte) (*Boundary, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode boundary geojson: %w", err)
	}

	var region orb.MultiPolygon
	for _, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			region = append(region, g)
		case orb.MultiPolygon:
			region = append(region, g...)
		}
	}
	if len(region) == 0 {
		return nil, errors.New("boundary has no polygon features")
	}
	return &Boundary{region: region, bound: region.Bound()}, nil
}

// Contains reports whether the coordinate lies inside the boundary.
func (b *Boundary) Contains(lat, lon float64) bool {
	p := orb.Point{lon, lat}
	if !b.bound.Contains(p) {
		return false
	}
	return planar.MultiPolygonContains(b.region, p)
}

// IsWithinCountryBoundary implements the location-update boundary check.
func (b *Boundary) IsWithinCountryBoundary(_ context.Context, lat, lon float64) (bool, error) {
	return b.Contains(lat, lon), nil
}
