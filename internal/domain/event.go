package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DetectionCreated is emitted once for every newly persisted detection.
type DetectionCreated struct {
	DetectionID uuid.UUID `json:"detection_id"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Confidence  float64   `json:"confidence"`
	RiskScore   float64   `json:"risk_score"`
	Source      string    `json:"source"`
	DetectedAt  time.Time `json:"detected_at"`
}

// NewDetectionCreated builds the event for a persisted detection.
func NewDetectionCreated(d Detection) DetectionCreated {
	return DetectionCreated{
		DetectionID: d.ID,
		Latitude:    d.Location.Lat,
		Longitude:   d.Location.Lon,
		Confidence:  d.Confidence,
		RiskScore:   d.RiskScore,
		Source:      d.SourceName,
		DetectedAt:  d.DetectedAt,
	}
}

// Validate rejects events that no handler could act on.
func (e DetectionCreated) Validate() error {
	if e.DetectionID == uuid.Nil {
		return fmt.Errorf("%w: missing detection id", ErrInvalidEvent)
	}
	if !ValidCoordinates(e.Latitude, e.Longitude) {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, ErrInvalidCoordinates)
	}
	return nil
}

// EventEnvelope is a DetectionCreated read from the bus, with the position
// needed to acknowledge it.
type EventEnvelope struct {
	Event     DetectionCreated
	Topic     string
	Partition int
	Offset    int64
	Err       error // set when the payload could not be decoded
	Commit    func(ctx context.Context) error
}
