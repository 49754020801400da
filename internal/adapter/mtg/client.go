// Package mtg fetches geostationary fire detections from the EUMETSAT Data
// Store (MTG-I1 FCI active fire product).
package mtg

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/jonboulle/clockwork"
)

// SourceName labels every detection from this adapter.
const SourceName = "MTG-I1-FCI"

const (
	searchPageSize = 180
	sampleStride   = 20
	maxProducts    = 5
)

// Options configures an MTG client.
type Options struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Collection     string
	Timeout        time.Duration
}

// Client implements the geostationary ingestion adapter.
type Client struct {
	http       *resty.Client
	key        string
	secret     string
	collection string
	decoder    Decoder
	clock      clockwork.Clock
	logger     *slog.Logger

	mu     sync.Mutex
	tokens tokenCache
}

// NewClient creates an MTG client. The clock drives token expiry.
func NewClient(opts Options, decoder Decoder, clock clockwork.Clock, logger *slog.Logger) *Client {
	rc := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", "fireguard-alerts/1.0")

	return &Client{
		http:       rc,
		key:        opts.ConsumerKey,
		secret:     opts.ConsumerSecret,
		collection: opts.Collection,
		decoder:    decoder,
		clock:      clock,
		logger:     logger,
		tokens:     newTokenCache(clock),
	}
}

// Name identifies the adapter in logs and metrics.
func (c *Client) Name() string { return "mtg" }

// FetchActiveFires searches products in the lookback window, decodes a
// sample of them and returns their fire pixels inside box. A product that
// fails to download or decode is skipped; the call fails only when every
// sampled product failed.
func (c *Client) FetchActiveFires(ctx context.Context, box domain.BoundingBox, lookback time.Duration) ([]domain.Detection, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	products, err := c.searchProducts(ctx, token, box, lookback)
	if err != nil {
		return nil, err
	}
	selected := sampleProducts(products)
	if len(selected) == 0 {
		c.logger.Info("no mtg products in window", "lookback", lookback.String())
		return nil, nil
	}

	var (
		out    []domain.Detection
		failed int
	)
	for _, p := range selected {
		dets, err := c.processProduct(ctx, token, p, box)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			c.logger.Warn("skipping mtg product", "product_id", p.ID, "error", err)
			continue
		}
		out = append(out, dets...)
	}
	if failed == len(selected) {
		return nil, fmt.Errorf("all %d mtg products failed", failed)
	}
	return out, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// accessToken returns a cached token or fetches a new one.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tok, ok := c.tokens.current(); ok {
		return tok, nil
	}

	var tr tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.key, c.secret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&tr).
		Post("/token")
	if err != nil {
		return "", fmt.Errorf("mtg token request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("mtg token error: status %d", resp.StatusCode())
	}
	if tr.AccessToken == "" {
		return "", errors.New("mtg token response has no access_token")
	}

	c.tokens.store(tr.AccessToken, time.Duration(tr.ExpiresIn)*time.Second)
	return tr.AccessToken, nil
}

type product struct {
	ID          string
	DownloadURL string
	Start       time.Time
}

type searchResponse struct {
	Features []struct {
		ID         string `json:"id"`
		Properties struct {
			Date  string `json:"date"` // start/end
			Links struct {
				Data []struct {
					Href string `json:"href"`
				} `json:"data"`
			} `json:"links"`
		} `json:"properties"`
	} `json:"features"`
}

func (c *Client) searchProducts(ctx context.Context, token string, box domain.BoundingBox, lookback time.Duration) ([]product, error) {
	end := c.clock.Now().UTC()
	start := end.Add(-lookback)

	var sr searchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParams(map[string]string{
			"pi":      c.collection,
			"bbox":    box.String(),
			"dtstart": start.Format(time.RFC3339),
			"dtend":   end.Format(time.RFC3339),
			"si":      "0",
			"c":       fmt.Sprint(searchPageSize),
			"format":  "json",
		}).
		SetResult(&sr).
		Get("/data/search-products/os")
	if err != nil {
		return nil, fmt.Errorf("mtg search request: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		c.mu.Lock()
		c.tokens.invalidate()
		c.mu.Unlock()
	}
	if resp.IsError() {
		return nil, fmt.Errorf("mtg search error: status %d", resp.StatusCode())
	}

	products := make([]product, 0, len(sr.Features))
	for _, f := range sr.Features {
		if len(f.Properties.Links.Data) == 0 {
			continue
		}
		startStr, _, _ := strings.Cut(f.Properties.Date, "/")
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			c.logger.Debug("mtg product without start time", "product_id", f.ID, "date", f.Properties.Date)
			continue
		}
		products = append(products, product{ID: f.ID, DownloadURL: f.Properties.Links.Data[0].Href, Start: t})
	}
	return products, nil
}

// sampleProducts orders products newest first and keeps every 20th, at most 5.
func sampleProducts(products []product) []product {
	sorted := append([]product(nil), products...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.After(sorted[j].Start) })

	var out []product
	for i := 0; i < len(sorted) && len(out) < maxProducts; i += sampleStride {
		out = append(out, sorted[i])
	}
	return out
}

func (c *Client) processProduct(ctx context.Context, token string, p product, box domain.BoundingBox) ([]domain.Detection, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		Get(p.DownloadURL)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("download: status %d", resp.StatusCode())
	}

	nc, err := extractNetCDF(resp.Body())
	if err != nil {
		return nil, err
	}

	decoded, err := c.decoder.Decode(ctx, nc, box)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return c.toDetections(decoded, p), nil
}

// extractNetCDF returns the first .nc entry of a zipped product, or the body
// unchanged when it is not a zip archive.
func extractNetCDF(body []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		// Not an archive; the download is the NetCDF file itself.
		return body, nil
	}
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ".nc") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		return data, nil
	}
	return nil, errors.New("no NetCDF file in product archive")
}

func (c *Client) toDetections(decoded Decoded, p product) []domain.Detection {
	now := domain.Now()
	out := make([]domain.Detection, 0, len(decoded.Fires))
	for _, px := range decoded.Fires {
		if !domain.ValidCoordinates(px.Latitude, px.Longitude) {
			c.logger.Warn("dropping mtg pixel with invalid coordinates",
				"product_id", p.ID, "lat", px.Latitude, "lon", px.Longitude)
			continue
		}
		detectedAt := decoded.Metadata.TimeStart
		if px.Time != nil {
			detectedAt = *px.Time
		}
		if detectedAt.IsZero() {
			detectedAt = p.Start
		}
		detectedAt = detectedAt.UTC()

		status := domain.FireDetected
		if px.ConfidenceClass >= 2 {
			status = domain.FireVerified
		}
		out = append(out, domain.Detection{
			ID:             domain.DetectionID(SourceName, px.Latitude, px.Longitude, detectedAt),
			Location:       domain.Point{Lat: px.Latitude, Lon: px.Longitude},
			DetectedAt:     detectedAt,
			Confidence:     ConfidenceFromClass(px.ConfidenceClass),
			Brightness:     domain.PositiveOrNil(px.BrightnessTemperature),
			RadiativePower: domain.PositiveOrNil(px.FRP),
			SourceName:     SourceName,
			Status:         status,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	return out
}

// ConfidenceFromClass maps the FCI confidence class to 0-100.
func ConfidenceFromClass(class int) float64 {
	switch class {
	case 3:
		return 85
	case 2:
		return 60
	case 1:
		return 35
	default:
		return 50
	}
}
