package mtg

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/go-resty/resty/v2"
)

// Pixel is one fire pixel extracted from an FCI active-fire product.
type Pixel struct {
	Latitude              float64    `json:"latitude"`
	Longitude             float64    `json:"longitude"`
	ConfidenceClass       int        `json:"confidence_value"`
	Probability           float64    `json:"probability"`
	FRP                   float64    `json:"frp"`
	BrightnessTemperature float64    `json:"brightness_temperature"`
	Time                  *time.Time `json:"time,omitempty"`
}

// Decoded is the decoder output for one product.
type Decoded struct {
	Metadata struct {
		TimeStart time.Time `json:"time_start"`
		TimeEnd   time.Time `json:"time_end"`
	} `json:"metadata"`
	Fires []Pixel `json:"fires"`
}

// Decoder turns a NetCDF product into fire pixels within box.
type Decoder interface {
	Decode(ctx context.Context, netCDF []byte, box domain.BoundingBox) (Decoded, error)
}

// HTTPDecoder posts products to a decoding sidecar.
type HTTPDecoder struct {
	http *resty.Client
	url  string
}

// NewHTTPDecoder creates a decoder client for the sidecar at url.
func NewHTTPDecoder(url string, timeout time.Duration) *HTTPDecoder {
	return &HTTPDecoder{
		http: resty.New().SetTimeout(timeout),
		url:  url,
	}
}

// Decode sends the raw NetCDF bytes and parses the JSON pixel list.
func (d *HTTPDecoder) Decode(ctx context.Context, netCDF []byte, box domain.BoundingBox) (Decoded, error) {
	var out Decoded
	resp, err := d.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-netcdf").
		SetQueryParam("bbox", box.String()).
		SetBody(netCDF).
		SetResult(&out).
		Post(d.url)
	if err != nil {
		return Decoded{}, fmt.Errorf("decode request: %w", err)
	}
	if resp.IsError() {
		return Decoded{}, fmt.Errorf("decoder error: status %d: %s", resp.StatusCode(), resp.String())
	}
	return out, nil
}
