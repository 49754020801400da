// Package firms fetches polar-orbit fire detections from the NASA FIRMS area API.
package firms

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/go-resty/resty/v2"
)

// Options configures a FIRMS client.
type Options struct {
	BaseURL string
	APIKey  string
	Source  string // e.g. VIIRS_NOAA20_NRT, VIIRS_SNPP_NRT, MODIS_NRT
	Timeout time.Duration
}

// Client implements the polar-orbit ingestion adapter.
type Client struct {
	http   *resty.Client
	apiKey string
	source string
	logger *slog.Logger
}

// NewClient creates a FIRMS client. Retries are left to the caller.
func NewClient(opts Options, logger *slog.Logger) *Client {
	rc := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "text/csv").
		SetHeader("User-Agent", "fireguard-alerts/1.0")

	return &Client{
		http:   rc,
		apiKey: opts.APIKey,
		source: opts.Source,
		logger: logger,
	}
}

// Name identifies the adapter in logs and metrics.
func (c *Client) Name() string { return "firms:" + c.source }

// FetchActiveFires returns detections inside box observed within lookback.
// FIRMS works in whole days, so lookback is rounded up to 1..10 days.
func (c *Client) FetchActiveFires(ctx context.Context, box domain.BoundingBox, lookback time.Duration) ([]domain.Detection, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetRawPathParams(map[string]string{
			"key":    c.apiKey,
			"source": c.source,
			"area":   box.String(),
			"days":   strconv.Itoa(DayRange(lookback)),
		}).
		Get("/api/area/csv/{key}/{source}/{area}/{days}")
	if err != nil {
		return nil, fmt.Errorf("firms request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("firms API error: status %d: %s", resp.StatusCode(), truncate(resp.Body(), 256))
	}

	detections, stats, err := ParseCSV(bytes.NewReader(resp.Body()), c.logger)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("firms fetch complete",
		"source", c.source, "area", box.String(),
		"rows", stats.Rows, "kept", stats.Kept, "dropped", stats.Dropped)
	return detections, nil
}

// DayRange converts a lookback window to the FIRMS day_range parameter.
func DayRange(lookback time.Duration) int {
	days := int(math.Ceil(lookback.Hours() / 24))
	if days < 1 {
		return 1
	}
	if days > 10 {
		return 10
	}
	return days
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
