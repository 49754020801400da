package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/time/rate"
)

const maxSMSLength = 480

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMSTransport delivers notifications through Twilio.
type SMSTransport struct {
	api      messageCreator
	from     string
	contacts ContactDirectory
	limiter  *rate.Limiter
}

// NewSMSTransport creates an SMS transport sending at most rps messages per second.
func NewSMSTransport(accountSID, authToken, from string, contacts ContactDirectory, rps float64) *SMSTransport {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &SMSTransport{api: client.Api, from: from, contacts: contacts, limiter: newLimiter(rps)}
}

// Channel implements Transport.
func (t *SMSTransport) Channel() domain.Channel { return domain.ChannelSMS }

// Deliver implements Transport.
func (t *SMSTransport) Deliver(ctx context.Context, msg domain.NotificationMessage) error {
	contact, err := t.contacts.Contact(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("sms contact: %w", err)
	}
	if !strings.HasPrefix(contact.Phone, "+") {
		return fmt.Errorf("%w: phone for user %s", ErrNoAddress, msg.UserID)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	to := contact.Phone
	body := smsBody(msg)
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetBody(body)
	if _, err := t.api.CreateMessage(params); err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	return nil
}

func smsBody(msg domain.NotificationMessage) string {
	body := msg.Title + "\n" + msg.Body
	if r := []rune(body); len(r) > maxSMSLength {
		body = string(r[:maxSMSLength-1]) + "…"
	}
	return body
}
