package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrNoAddress is returned when a user has no address for a channel.
var ErrNoAddress = errors.New("no contact address")

// ContactDirectory looks up where to reach a user.
type ContactDirectory interface {
	Contact(ctx context.Context, userID uuid.UUID) (domain.Contact, error)
}

// SMTPConfig holds mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailTransport delivers notifications by SMTP.
type EmailTransport struct {
	cfg      SMTPConfig
	contacts ContactDirectory
	limiter  *rate.Limiter
	send     sendMailFunc
}

// NewEmailTransport creates an email transport sending at most rps messages per second.
func NewEmailTransport(cfg SMTPConfig, contacts ContactDirectory, rps float64) *EmailTransport {
	return &EmailTransport{
		cfg:      cfg,
		contacts: contacts,
		limiter:  newLimiter(rps),
		send:     smtp.SendMail,
	}
}

// Channel implements Transport.
func (t *EmailTransport) Channel() domain.Channel { return domain.ChannelEmail }

// Deliver implements Transport.
func (t *EmailTransport) Deliver(ctx context.Context, msg domain.NotificationMessage) error {
	contact, err := t.contacts.Contact(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("email contact: %w", err)
	}
	if !strings.Contains(contact.Email, "@") {
		return fmt.Errorf("%w: email for user %s", ErrNoAddress, msg.UserID)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	var auth smtp.Auth
	if strings.TrimSpace(t.cfg.Username) != "" {
		auth = smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	if err := t.send(addr, auth, t.cfg.From, []string{contact.Email}, renderEmail(t.cfg.From, contact.Email, msg)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func renderEmail(from, to string, msg domain.NotificationMessage) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\nTo: %s\r\nSubject: %s\r\n", from, to, msg.Title)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(msg.Body)
	if msg.Metadata.Latitude != nil && msg.Metadata.Longitude != nil {
		fmt.Fprintf(&b, "\r\n\r\nYour reported location: %.4f, %.4f", *msg.Metadata.Latitude, *msg.Metadata.Longitude)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
}
