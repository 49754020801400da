package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/google/uuid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testNow = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

func testAlert(severity domain.AlertSeverity) domain.FireAlert {
	return domain.FireAlert{
		ID:       uuid.New(),
		Title:    domain.AlertTitle(severity, "Manavgat, Antalya"),
		Severity: severity,
		Status:   domain.AlertActive,
		Center:   domain.Point{Lat: 36.78, Lon: 31.44},
	}
}

func testUserAlert(alert domain.FireAlert) domain.UserAlert {
	return domain.UserAlert{
		ID:           uuid.New(),
		FireAlertID:  alert.ID,
		UserID:       uuid.New(),
		UserRole:     domain.RoleCivilian,
		UserLocation: domain.Point{Lat: 36.8, Lon: 31.4},
		DistanceKm:   3.2,
		Message:      "Fire detected 3.2 km from you. Confidence: 90%",
		CreatedAt:    testNow,
	}
}

// recordingPublisher records published messages and fails selected channels.
type recordingPublisher struct {
	mu       sync.Mutex
	msgs     []domain.NotificationMessage
	failFor  map[domain.Channel]error
	failUser map[uuid.UUID]bool
}

func (p *recordingPublisher) Publish(_ context.Context, msg domain.NotificationMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failFor[msg.Channel]; err != nil {
		return err
	}
	if p.failUser[msg.UserID] {
		return errors.New("connection reset")
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) published() []domain.NotificationMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.NotificationMessage(nil), p.msgs...)
}

type staticContacts map[uuid.UUID]domain.Contact

func (c staticContacts) Contact(_ context.Context, id uuid.UUID) (domain.Contact, error) {
	contact, ok := c[id]
	if !ok {
		return domain.Contact{}, domain.ErrNotFound
	}
	return contact, nil
}
