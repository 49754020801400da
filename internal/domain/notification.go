package domain

import (
	"time"

	"github.com/google/uuid"
)

// Channel is a notification delivery medium.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// AllChannels lists every channel in delivery preference order.
var AllChannels = []Channel{ChannelPush, ChannelSMS, ChannelEmail}

// ChannelsFor returns the channels a severity fans out to.
func ChannelsFor(s AlertSeverity) []Channel {
	if s >= SeverityHigh {
		return AllChannels
	}
	return []Channel{ChannelPush}
}

// NotificationMetadata carries the typed context a transport needs to render
// a delivery. Extra holds open-ended fields only.
type NotificationMetadata struct {
	FireAlertID uuid.UUID         `json:"fire_alert_id"`
	UserRole    UserRole          `json:"user_role,omitempty"`
	DistanceKm  *float64          `json:"distance_km,omitempty"`
	Latitude    *float64          `json:"latitude,omitempty"`
	Longitude   *float64          `json:"longitude,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// NotificationMessage is the broker payload for one channel delivery. The
// retry count travels with the message.
type NotificationMessage struct {
	UserAlertID uuid.UUID            `json:"user_alert_id"`
	UserID      uuid.UUID            `json:"user_id"`
	Channel     Channel              `json:"channel"`
	Priority    AlertSeverity        `json:"priority"`
	Title       string               `json:"title"`
	Body        string               `json:"body"`
	Metadata    NotificationMetadata `json:"metadata"`
	RetryCount  int                  `json:"retry_count"`
	CreatedAt   time.Time            `json:"created_at"`
}

// NewNotificationMessage builds the payload for one user alert on one channel.
func NewNotificationMessage(alert FireAlert, ua UserAlert, ch Channel) NotificationMessage {
	distance := ua.DistanceKm
	lat := ua.UserLocation.Lat
	lon := ua.UserLocation.Lon
	return NotificationMessage{
		UserAlertID: ua.ID,
		UserID:      ua.UserID,
		Channel:     ch,
		Priority:    alert.Severity,
		Title:       alert.Title,
		Body:        ua.Message,
		Metadata: NotificationMetadata{
			FireAlertID: alert.ID,
			UserRole:    ua.UserRole,
			DistanceKm:  &distance,
			Latitude:    &lat,
			Longitude:   &lon,
		},
		CreatedAt: Now(),
	}
}
