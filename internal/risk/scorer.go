// Package risk computes the composite 0-100 risk score of a detection.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/couchcryptid/fireguard-alerts/internal/observability"
)

// Factor weights. They sum to 1.0.
const (
	weightConfidence  = 0.25
	weightIntensity   = 0.20
	weightForest      = 0.15
	weightSettlement  = 0.15
	weightTemporal    = 0.10
	weightSpatial     = 0.10
	weightWeather     = 0.05
	placeholderFactor = 50.0
)

// Proximity answers the land-cover questions the score depends on.
type Proximity interface {
	IsInForest(ctx context.Context, lat, lon float64) (bool, error)
	IsInSettlement(ctx context.Context, lat, lon float64) (bool, error)
	NearestForestDistanceKm(ctx context.Context, lat, lon float64) (float64, error)
	NearestSettlementDistanceKm(ctx context.Context, lat, lon float64) (float64, error)
}

// Scorer computes detection risk scores.
type Scorer struct {
	geo     Proximity
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewScorer creates a Scorer. A nil geo scores both proximity factors as 0.
func NewScorer(geo Proximity, logger *slog.Logger, metrics *observability.Metrics) *Scorer {
	return &Scorer{geo: geo, logger: logger, metrics: metrics}
}

// Score returns the weighted risk of d in [0, 100], rounded to one decimal.
// It never fails: a panic during scoring yields 0.
func (s *Scorer) Score(ctx context.Context, d domain.Detection) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("risk scoring panicked", "detection_id", d.ID, "panic", fmt.Sprint(r))
			score = 0
		}
	}()

	lat, lon := d.Location.Lat, d.Location.Lon
	forest := s.proximity(ctx, "forest", lat, lon, s.forestLookups())
	settlement := s.proximity(ctx, "settlement", lat, lon, s.settlementLookups())

	raw := domain.ClampScore(d.Confidence)*weightConfidence +
		IntensityFactor(d.RadiativePower)*weightIntensity +
		forest*weightForest +
		settlement*weightSettlement +
		placeholderFactor*(weightTemporal+weightSpatial+weightWeather)

	score = math.Round(domain.ClampScore(raw)*10) / 10
	s.metrics.RiskScore.Observe(score)
	return score
}

// IntensityFactor maps fire radiative power (MW) to a 0-100 factor.
// Missing FRP scores in the lowest bucket.
func IntensityFactor(frp *float64) float64 {
	if frp == nil {
		return 15
	}
	switch v := *frp; {
	case v >= 100:
		return 100
	case v >= 50:
		return 85
	case v >= 20:
		return 70
	case v >= 10:
		return 50
	case v >= 5:
		return 30
	default:
		return 15
	}
}

// DistanceFactor maps the distance to the nearest feature onto a 0-100 factor.
func DistanceFactor(km float64) float64 {
	switch {
	case km < 1:
		return 90
	case km < 5:
		return 70
	case km < 10:
		return 50
	case km < 25:
		return 30
	case km < 50:
		return 15
	case km < 100:
		return 5
	default:
		return 0
	}
}

type proximityLookups struct {
	inside   func(ctx context.Context, lat, lon float64) (bool, error)
	distance func(ctx context.Context, lat, lon float64) (float64, error)
}

func (s *Scorer) forestLookups() proximityLookups {
	if s.geo == nil {
		return proximityLookups{}
	}
	return proximityLookups{inside: s.geo.IsInForest, distance: s.geo.NearestForestDistanceKm}
}

func (s *Scorer) settlementLookups() proximityLookups {
	if s.geo == nil {
		return proximityLookups{}
	}
	return proximityLookups{inside: s.geo.IsInSettlement, distance: s.geo.NearestSettlementDistanceKm}
}

// proximity scores one land-cover feature. Lookup errors degrade the factor to 0.
func (s *Scorer) proximity(ctx context.Context, feature string, lat, lon float64, l proximityLookups) float64 {
	if l.inside == nil {
		return 0
	}
	inside, err := l.inside(ctx, lat, lon)
	if err != nil {
		s.logger.Warn("proximity lookup failed", "feature", feature, "error", err, "lat", lat, "lon", lon)
		return 0
	}
	if inside {
		return 100
	}
	km, err := l.distance(ctx, lat, lon)
	if err != nil {
		s.logger.Warn("distance lookup failed", "feature", feature, "error", err, "lat", lat, "lon", lon)
		return 0
	}
	return DistanceFactor(km)
}
