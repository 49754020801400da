package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectionID_Stable(t *testing.T) {
	at := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)
	a := DetectionID("N20-VIIRS", 39.93001, 32.86001, at)
	b := DetectionID("N20-VIIRS", 39.93004, 32.86004, at.In(time.FixedZone("TRT", 3*3600)))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, DetectionID("MTG-I1-FCI", 39.93, 32.86, at))
	assert.NotEqual(t, a, DetectionID("N20-VIIRS", 39.93, 32.86, at.Add(time.Minute)))
}

func TestClampScore(t *testing.T) {
	assert.InDelta(t, 0.0, ClampScore(-5), 0)
	assert.InDelta(t, 100.0, ClampScore(250), 0)
	assert.InDelta(t, 42.5, ClampScore(42.5), 0)
	assert.InDelta(t, 0.0, ClampScore(math.NaN()), 0)
}

func TestPositiveOrNil(t *testing.T) {
	assert.Nil(t, PositiveOrNil(0))
	assert.Nil(t, PositiveOrNil(-3))
	v := PositiveOrNil(12.5)
	require.NotNil(t, v)
	assert.InDelta(t, 12.5, *v, 0)
}

func TestChannelsFor(t *testing.T) {
	assert.Equal(t, []Channel{ChannelPush, ChannelSMS, ChannelEmail}, ChannelsFor(SeverityCritical))
	assert.Equal(t, []Channel{ChannelPush, ChannelSMS, ChannelEmail}, ChannelsFor(SeverityHigh))
	assert.Equal(t, []Channel{ChannelPush}, ChannelsFor(SeverityMedium))
	assert.Equal(t, []Channel{ChannelPush}, ChannelsFor(SeverityInfo))
}

func TestDetectionCreated_Validate(t *testing.T) {
	d := Detection{ID: DetectionID("x", 1, 1, time.Unix(0, 0)), Location: Point{Lat: 1, Lon: 1}}
	require.NoError(t, NewDetectionCreated(d).Validate())

	err := DetectionCreated{}.Validate()
	assert.ErrorIs(t, err, ErrInvalidEvent)

	bad := NewDetectionCreated(d)
	bad.Latitude = 120
	err = bad.Validate()
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.ErrorIs(t, err, ErrInvalidCoordinates)
}
