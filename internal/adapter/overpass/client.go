// Package overpass answers land-cover questions about a coordinate from
// OpenStreetMap data via the Overpass API, and checks coordinates against the
// served country boundary.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/couchcryptid/fireguard-alerts/internal/observability"
)

// NoFeatureKm is reported when no feature exists within the search radius.
const NoFeatureKm = 10000.0

const (
	forestRadiusMeters     = 400
	settlementAreaMeters   = 500
	settlementPlaceMeters  = 2000
	nearestSearchMeters    = 50000
	settlementLandUseRegex = "^(residential|commercial|industrial|retail)$"
	settlementPlaceRegex   = "^(city|town|village|hamlet)$"
)

// Client queries an Overpass interpreter endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates an Overpass client for the interpreter at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		logger:     logger,
		metrics:    metrics,
	}
}

// IsInForest reports whether forest land use lies within a few hundred metres.
func (c *Client) IsInForest(ctx context.Context, lat, lon float64) (bool, error) {
	q := fmt.Sprintf(`[out:json][timeout:10];
(
  way(around:%d,%.6f,%.6f)["landuse"="forest"];
  relation(around:%d,%.6f,%.6f)["landuse"="forest"];
);
out count;`, forestRadiusMeters, lat, lon, forestRadiusMeters, lat, lon)

	n, err := c.count(ctx, "in_forest", q)
	return n > 0, err
}

// IsInSettlement reports whether the point is in built-up land or near a named place.
func (c *Client) IsInSettlement(ctx context.Context, lat, lon float64) (bool, error) {
	q := fmt.Sprintf(`[out:json][timeout:10];
(
  way(around:%d,%.6f,%.6f)["landuse"~"%s"];
  relation(around:%d,%.6f,%.6f)["landuse"~"%s"];
  node(around:%d,%.6f,%.6f)["place"~"%s"];
);
out count;`,
		settlementAreaMeters, lat, lon, settlementLandUseRegex,
		settlementAreaMeters, lat, lon, settlementLandUseRegex,
		settlementPlaceMeters, lat, lon, settlementPlaceRegex)

	n, err := c.count(ctx, "in_settlement", q)
	return n > 0, err
}

// NearestForestDistanceKm returns the distance to the closest forest centroid
// within 50 km, or NoFeatureKm.
func (c *Client) NearestForestDistanceKm(ctx context.Context, lat, lon float64) (float64, error) {
	q := fmt.Sprintf(`[out:json][timeout:15];
(
  way(around:%d,%.6f,%.6f)["landuse"="forest"];
  relation(around:%d,%.6f,%.6f)["landuse"="forest"];
  way(around:%d,%.6f,%.6f)["natural"="wood"];
);
out center;`,
		nearestSearchMeters, lat, lon,
		nearestSearchMeters, lat, lon,
		nearestSearchMeters, lat, lon)

	return c.nearest(ctx, "forest_distance", q, lat, lon)
}

// NearestSettlementDistanceKm returns the distance to the closest named place
// within 50 km, or NoFeatureKm.
func (c *Client) NearestSettlementDistanceKm(ctx context.Context, lat, lon float64) (float64, error) {
	q := fmt.Sprintf(`[out:json][timeout:15];
node(around:%d,%.6f,%.6f)["place"~"%s"];
out;`, nearestSearchMeters, lat, lon, settlementPlaceRegex)

	return c.nearest(ctx, "settlement_distance", q, lat, lon)
}

func (c *Client) count(ctx context.Context, lookup, query string) (int, error) {
	resp, err := c.interpret(ctx, lookup, query)
	if err != nil {
		return 0, err
	}
	for _, e := range resp.Elements {
		if e.Type != "count" {
			continue
		}
		n, err := strconv.Atoi(e.Tags["total"])
		if err != nil {
			return 0, fmt.Errorf("overpass %s: bad count %q", lookup, e.Tags["total"])
		}
		return n, nil
	}
	return 0, nil
}

func (c *Client) nearest(ctx context.Context, lookup, query string, lat, lon float64) (float64, error) {
	resp, err := c.interpret(ctx, lookup, query)
	if err != nil {
		return 0, err
	}
	best := math.Inf(1)
	for _, e := range resp.Elements {
		p, ok := e.position()
		if !ok {
			continue
		}
		if d := domain.DistanceKm(lat, lon, p.Lat, p.Lon); d < best {
			best = d
		}
	}
	if math.IsInf(best, 1) {
		c.logger.Debug("no feature within search radius", "lookup", lookup, "lat", lat, "lon", lon)
		return NoFeatureKm, nil
	}
	return best, nil
}

func (c *Client) interpret(ctx context.Context, lookup, query string) (response, error) {
	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "fireguard-alerts/1.0")

	out, err := c.do(req, lookup)
	if err != nil {
		c.metrics.GeodataLookups.WithLabelValues(lookup, "error").Inc()
		return response{}, err
	}
	c.metrics.GeodataLookups.WithLabelValues(lookup, "success").Inc()
	return out, nil
}

func (c *Client) do(req *http.Request, lookup string) (response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("overpass %s request: %w", lookup, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return response{}, fmt.Errorf("overpass API error: status %d: %s", resp.StatusCode, body)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return response{}, fmt.Errorf("decode overpass %s response: %w", lookup, err)
	}
	return out, nil
}

// Overpass API response types.

type response struct {
	Elements []element `json:"elements"`
}

type element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    *float64          `json:"lat"`
	Lon    *float64          `json:"lon"`
	Center *center           `json:"center"`
	Tags   map[string]string `json:"tags"`
}

type center struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// position is the node coordinate, or the centroid of a way or relation.
func (e element) position() (domain.Point, bool) {
	if e.Lat != nil && e.Lon != nil {
		return domain.Point{Lat: *e.Lat, Lon: *e.Lon}, true
	}
	if e.Center != nil {
		return domain.Point{Lat: e.Center.Lat, Lon: e.Center.Lon}, true
	}
	return domain.Point{}, false
}
