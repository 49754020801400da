package domain

import (
	"context"
	"log/slog"
)

// GeocodingResult contains place details returned by a geocoding provider.
type GeocodingResult struct {
	Lat              float64
	Lon              float64
	FormattedAddress string
	PlaceName        string
	Confidence       float64 // 0.0–1.0 provider confidence score
}

// Geocoder resolves coordinates to a place.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (GeocodingResult, error)
}

// LocationLabel describes a coordinate for alert titles. Geocoding failures
// degrade to a coordinate label; a nil geocoder always does.
func LocationLabel(ctx context.Context, g Geocoder, lat, lon float64, logger *slog.Logger) string {
	if g == nil {
		return FallbackLocationLabel(lat, lon)
	}
	res, err := g.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		logger.Warn("reverse geocoding failed, using coordinates",
			"error", err, "lat", lat, "lon", lon)
		return FallbackLocationLabel(lat, lon)
	}
	if res.FormattedAddress == "" {
		return FallbackLocationLabel(lat, lon)
	}
	return res.FormattedAddress
}
