package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityFromConfidence(t *testing.T) {
	tests := []struct {
		confidence float64
		want       AlertSeverity
		radius     float64
		priority   uint8
	}{
		{100, SeverityCritical, 50, 10},
		{85, SeverityCritical, 50, 10},
		{84.9, SeverityHigh, 30, 7},
		{70, SeverityHigh, 30, 7},
		{55, SeverityMedium, 20, 5},
		{40, SeverityLow, 10, 3},
		{39.9, SeverityInfo, 5, 1},
		{0, SeverityInfo, 5, 1},
	}
	for _, tt := range tests {
		got := SeverityFromConfidence(tt.confidence)
		assert.Equal(t, tt.want, got, "confidence %v", tt.confidence)
		assert.InDelta(t, tt.radius, AlertRadiusKm(got), 0.001)
		assert.Equal(t, tt.priority, BrokerPriority(got))
	}
}

func TestAlertSeverity_Text(t *testing.T) {
	b, err := SeverityHigh.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "High", string(b))

	var s AlertSeverity
	require.NoError(t, s.UnmarshalText([]byte("critical")))
	assert.Equal(t, SeverityCritical, s)

	assert.Error(t, s.UnmarshalText([]byte("apocalyptic")))
}

func TestNewFireAlert(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC))
	SetClock(fc)
	t.Cleanup(func() { SetClock(nil) })

	evt := DetectionCreated{
		DetectionID: uuid.New(),
		Latitude:    39.93,
		Longitude:   32.86,
		Confidence:  85,
		DetectedAt:  time.Date(2025, 8, 1, 11, 40, 0, 0, time.UTC),
	}

	alert := NewFireAlert(evt, "Ankara")

	assert.Equal(t, evt.DetectionID, alert.DetectionID)
	assert.Equal(t, SeverityCritical, alert.Severity)
	assert.Equal(t, AlertActive, alert.Status)
	assert.InDelta(t, 50.0, alert.MaxRadiusKm, 0.001)
	assert.Equal(t, "URGENT: Fire detected - Ankara", alert.Title)
	assert.Contains(t, alert.Message, "39.9300°, 32.8600°")
	assert.Contains(t, alert.Message, "Confidence: 85%")
	assert.Contains(t, alert.Message, "Detected: 11:40 UTC")
	assert.Equal(t, fc.Now(), alert.CreatedAt)
	assert.Equal(t, fc.Now().Add(24*time.Hour), alert.ExpiresAt)
}

func TestStatusAfterFeedback(t *testing.T) {
	tests := []struct {
		name     string
		current  AlertStatus
		pos, neg int
		want     AlertStatus
	}{
		{"below threshold", AlertActive, 2, 0, AlertActive},
		{"confirmed", AlertActive, 3, 1, AlertConfirmed},
		{"denied", AlertActive, 1, 3, AlertDenied},
		{"tie stays", AlertActive, 3, 3, AlertActive},
		{"confirmed can be denied", AlertConfirmed, 3, 5, AlertDenied},
		{"resolved untouched", AlertResolved, 10, 0, AlertResolved},
		{"expired untouched", AlertExpired, 0, 10, AlertExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusAfterFeedback(tt.current, tt.pos, tt.neg))
		})
	}
}

func TestParseAlertStatus(t *testing.T) {
	s, err := ParseAlertStatus("resolved")
	require.NoError(t, err)
	assert.Equal(t, AlertResolved, s)
	assert.True(t, AlertConfirmed.Open())
	assert.False(t, AlertExpired.Open())

	_, err = ParseAlertStatus("burning")
	assert.Error(t, err)
}
