package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AlertSeverity orders alerts from Info to Critical.
type AlertSeverity int

const (
	SeverityInfo AlertSeverity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"Info", "Low", "Medium", "High", "Critical"}

func (s AlertSeverity) String() string {
	if s < SeverityInfo || s > SeverityCritical {
		return fmt.Sprintf("AlertSeverity(%d)", int(s))
	}
	return severityNames[s]
}

// MarshalText encodes the severity by name.
func (s AlertSeverity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name, case-insensitively.
func (s *AlertSeverity) UnmarshalText(b []byte) error {
	v, err := ParseAlertSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseAlertSeverity resolves a severity name.
func ParseAlertSeverity(name string) (AlertSeverity, error) {
	for i, n := range severityNames {
		if strings.EqualFold(n, name) {
			return AlertSeverity(i), nil
		}
	}
	return SeverityInfo, fmt.Errorf("unknown alert severity %q", name)
}

// SeverityFromConfidence maps detection confidence to an alert severity.
func SeverityFromConfidence(confidence float64) AlertSeverity {
	switch {
	case confidence >= 85:
		return SeverityCritical
	case confidence >= 70:
		return SeverityHigh
	case confidence >= 55:
		return SeverityMedium
	case confidence >= 40:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// AlertRadiusKm is the notification radius for a severity.
func AlertRadiusKm(s AlertSeverity) float64 {
	switch s {
	case SeverityCritical:
		return 50
	case SeverityHigh:
		return 30
	case SeverityMedium:
		return 20
	case SeverityLow:
		return 10
	case SeverityInfo:
		return 5
	default:
		return 10
	}
}

// BrokerPriority maps severity to a message priority in [1, 10].
func BrokerPriority(s AlertSeverity) uint8 {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 7
	case SeverityMedium:
		return 5
	case SeverityLow:
		return 3
	default:
		return 1
	}
}

// AlertStatus is the lifecycle state of a FireAlert.
type AlertStatus string

const (
	AlertActive    AlertStatus = "Active"
	AlertConfirmed AlertStatus = "Confirmed"
	AlertDenied    AlertStatus = "Denied"
	AlertResolved  AlertStatus = "Resolved"
	AlertExpired   AlertStatus = "Expired"
)

// Open reports whether the alert still counts as the live alert for its detection.
func (s AlertStatus) Open() bool {
	return s == AlertActive || s == AlertConfirmed
}

// ParseAlertStatus validates a status name.
func ParseAlertStatus(name string) (AlertStatus, error) {
	for _, s := range []AlertStatus{AlertActive, AlertConfirmed, AlertDenied, AlertResolved, AlertExpired} {
		if strings.EqualFold(string(s), name) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown alert status %q", name)
}

// AlertLifetime is how long a FireAlert stays live before the expiry sweep retires it.
const AlertLifetime = 24 * time.Hour

// FireAlert is the user-facing alert aggregated from one detection.
type FireAlert struct {
	ID                    uuid.UUID     `json:"id"`
	DetectionID           uuid.UUID     `json:"detection_id"`
	Title                 string        `json:"title"`
	Message               string        `json:"message"`
	LocationLabel         string        `json:"location_label"`
	Severity              AlertSeverity `json:"severity"`
	Status                AlertStatus   `json:"status"`
	Center                Point         `json:"center"`
	MaxRadiusKm           float64       `json:"max_radius_km"`
	OriginalConfidence    float64       `json:"original_confidence"`
	PositiveFeedbackCount int           `json:"positive_feedback_count"`
	NegativeFeedbackCount int           `json:"negative_feedback_count"`
	CreatedAt             time.Time     `json:"created_at"`
	ExpiresAt             time.Time     `json:"expires_at"`
	ResolvedAt            *time.Time    `json:"resolved_at,omitempty"`
}

// NewFireAlert builds an Active alert for a detection event. The title and
// message are rendered from severity and the supplied location label.
func NewFireAlert(evt DetectionCreated, locationLabel string) FireAlert {
	now := Now()
	severity := SeverityFromConfidence(evt.Confidence)
	return FireAlert{
		ID:                 uuid.New(),
		DetectionID:        evt.DetectionID,
		Title:              AlertTitle(severity, locationLabel),
		Message:            AlertMessage(evt.Latitude, evt.Longitude, evt.Confidence, severity, evt.DetectedAt),
		LocationLabel:      locationLabel,
		Severity:           severity,
		Status:             AlertActive,
		Center:             Point{Lat: evt.Latitude, Lon: evt.Longitude},
		MaxRadiusKm:        AlertRadiusKm(severity),
		OriginalConfidence: ClampScore(evt.Confidence),
		CreatedAt:          now,
		ExpiresAt:          now.Add(AlertLifetime),
	}
}

// AlertTitle renders the headline for a severity.
func AlertTitle(s AlertSeverity, location string) string {
	switch s {
	case SeverityCritical:
		return "URGENT: Fire detected - " + location
	case SeverityHigh:
		return "High risk: Fire detected - " + location
	case SeverityMedium:
		return "Medium risk: Fire detected - " + location
	case SeverityLow:
		return "Low risk: Fire warning - " + location
	default:
		return "Fire watch - " + location
	}
}

// AlertMessage renders the alert body.
func AlertMessage(lat, lon, confidence float64, s AlertSeverity, detectedAt time.Time) string {
	return fmt.Sprintf("Coordinates: %.4f°, %.4f° | Confidence: %.0f%% | Risk level: %s | Detected: %s UTC",
		lat, lon, confidence, s, detectedAt.UTC().Format("15:04"))
}

// FallbackLocationLabel is used when reverse geocoding yields nothing.
func FallbackLocationLabel(lat, lon float64) string {
	return fmt.Sprintf("%.4f°N, %.4f°E", lat, lon)
}

// FeedbackType is a user's verdict on an alert.
type FeedbackType string

const (
	FeedbackConfirmed FeedbackType = "Confirmed"
	FeedbackDenied    FeedbackType = "Denied"
	FeedbackUncertain FeedbackType = "Uncertain"
)

// ParseFeedbackType validates a feedback verdict.
func ParseFeedbackType(name string) (FeedbackType, error) {
	for _, f := range []FeedbackType{FeedbackConfirmed, FeedbackDenied, FeedbackUncertain} {
		if strings.EqualFold(string(f), name) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown feedback type %q", name)
}

// FeedbackThreshold is the number of agreeing verdicts that flips an alert's status.
const FeedbackThreshold = 3

// StatusAfterFeedback decides the alert status from aggregated counters.
// Only open alerts move; Resolved, Denied and Expired are left alone.
func StatusAfterFeedback(current AlertStatus, positive, negative int) AlertStatus {
	if current != AlertActive && current != AlertConfirmed {
		return current
	}
	switch {
	case negative >= FeedbackThreshold && negative > positive:
		return AlertDenied
	case positive >= FeedbackThreshold && positive > negative:
		return AlertConfirmed
	default:
		return current
	}
}
