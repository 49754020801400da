package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// FireStatus is the lifecycle state of a detection.
type FireStatus string

const (
	FireDetected      FireStatus = "Detected"
	FireVerified      FireStatus = "Verified"
	FireActive        FireStatus = "Active"
	FireContained     FireStatus = "Contained"
	FireExtinguished  FireStatus = "Extinguished"
	FireFalsePositive FireStatus = "FalsePositive"
)

// Terminal reports whether the detection no longer represents a burning fire.
func (s FireStatus) Terminal() bool {
	return s == FireExtinguished || s == FireFalsePositive
}

// DetectionStats counts stored detections by lifecycle status and by source.
type DetectionStats struct {
	ByStatus map[FireStatus]int `json:"by_status"`
	BySource map[string]int     `json:"by_source"`
}

// Detection is a single satellite-reported thermal anomaly.
type Detection struct {
	ID             uuid.UUID  `json:"id"`
	Location       Point      `json:"location"`
	DetectedAt     time.Time  `json:"detected_at"`
	Confidence     float64    `json:"confidence"`
	Brightness     *float64   `json:"brightness,omitempty"`
	RadiativePower *float64   `json:"radiative_power,omitempty"`
	SourceName     string     `json:"source_name"`
	Status         FireStatus `json:"status"`
	RiskScore      float64    `json:"risk_score"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// detectionNamespace seeds deterministic detection IDs.
var detectionNamespace = uuid.MustParse("6f1b1c3e-5a0e-4d8f-9a57-2f5e8c1d0b7a")

// DetectionID derives a stable ID from source, position rounded to four
// decimals, and observation time, so a re-fetched record maps to the same row.
func DetectionID(source string, lat, lon float64, detectedAt time.Time) uuid.UUID {
	key := fmt.Sprintf("%s|%.4f|%.4f|%d", source, lat, lon, detectedAt.UTC().Unix())
	return uuid.NewSHA1(detectionNamespace, []byte(key))
}

// ClampScore bounds a confidence or risk value to [0, 100]. NaN becomes 0.
func ClampScore(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// PositiveOrNil returns a pointer to v when v > 0, otherwise nil.
func PositiveOrNil(v float64) *float64 {
	if v <= 0 || math.IsNaN(v) {
		return nil
	}
	return &v
}
