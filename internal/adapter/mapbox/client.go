// Package mapbox labels alert coordinates with place names from the Mapbox
// reverse geocoding API.
package mapbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/couchcryptid/fireguard-alerts/internal/observability"
	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

// placeTypes are the feature types worth naming in an alert title. Street
// addresses and POIs are too precise for a fire that may span kilometres.
const placeTypes = "place,locality,district,region"

// Client implements domain.Geocoder.
type Client struct {
	http    *resty.Client
	token   string
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewClient creates a Mapbox client. language selects the label language;
// empty leaves it to Mapbox.
func NewClient(token, language string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return newClient(defaultBaseURL, token, language, timeout, logger, metrics)
}

func newClient(baseURL, token, language string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetQueryParams(map[string]string{
			"limit": "1",
			"types": placeTypes,
		})
	if language != "" {
		rc.SetQueryParam("language", language)
	}
	return &Client{http: rc, token: token, metrics: metrics, logger: logger}
}

// ReverseGeocode resolves a coordinate to its nearest named place. An empty
// result with a nil error means Mapbox knows nothing there (open sea, say).
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	start := time.Now()
	result, err := c.lookup(ctx, lat, lon)
	c.metrics.GeocodeAPIDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
	case result.FormattedAddress == "":
		c.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
		c.logger.Debug("reverse geocode returned no features", "lat", lat, "lon", lon)
	default:
		c.metrics.GeocodeRequests.WithLabelValues("success").Inc()
	}
	return result, err
}

func (c *Client) lookup(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	var body response
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("coord", fmt.Sprintf("%.6f,%.6f", lon, lat)). // lon,lat order
		SetQueryParam("access_token", c.token).
		SetResult(&body).
		Get("/{coord}.json")
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("reverse geocode request: %w", err)
	}
	if resp.IsError() {
		msg := resp.Body()
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return domain.GeocodingResult{}, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode(), msg)
	}
	if len(body.Features) == 0 {
		return domain.GeocodingResult{}, nil
	}
	return body.Features[0].result(), nil
}

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID        string    `json:"id"` // e.g. "place.123", the prefix is the feature type
	Center    []float64 `json:"center"`
	PlaceName string    `json:"place_name"`
	Text      string    `json:"text"`
	Relevance float64   `json:"relevance"`
	Context   []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"context"`
}

// result builds the alert label "Place, Region", e.g. "Manavgat, Antalya".
// The country is dropped since every alert is for one country. A feature that
// is itself a region is labelled by its own name.
func (f feature) result() domain.GeocodingResult {
	label := f.Text
	if !strings.HasPrefix(f.ID, "region.") {
		for _, c := range f.Context {
			if strings.HasPrefix(c.ID, "region.") && c.Text != "" && c.Text != f.Text {
				label = f.Text + ", " + c.Text
				break
			}
		}
	}
	if label == "" {
		label = f.PlaceName
	}

	res := domain.GeocodingResult{
		FormattedAddress: label,
		PlaceName:        f.Text,
		Confidence:       f.Relevance,
	}
	if len(f.Center) == 2 {
		res.Lon, res.Lat = f.Center[0], f.Center[1]
	}
	return res
}
