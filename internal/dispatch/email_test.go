package dispatch

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	addr string
	from string
	to   []string
	body string
}

func newTestEmailTransport(contacts ContactDirectory, sent *[]sentMail, err error) *EmailTransport {
	t := NewEmailTransport(SMTPConfig{Host: "smtp.test", Port: 2525, From: "alerts@fireguard.test"}, contacts, 0)
	t.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if err != nil {
			return err
		}
		*sent = append(*sent, sentMail{addr: addr, from: from, to: to, body: string(msg)})
		return nil
	}
	return t
}

func TestEmailTransport_Deliver(t *testing.T) {
	alert := testAlert(domain.SeverityHigh)
	ua := testUserAlert(alert)
	contacts := staticContacts{ua.UserID: {Email: "ayse@example.com"}}
	var sent []sentMail
	tr := newTestEmailTransport(contacts, &sent, nil)

	msg := domain.NewNotificationMessage(alert, ua, domain.ChannelEmail)
	require.NoError(t, tr.Deliver(context.Background(), msg))

	require.Len(t, sent, 1)
	assert.Equal(t, "smtp.test:2525", sent[0].addr)
	assert.Equal(t, "alerts@fireguard.test", sent[0].from)
	assert.Equal(t, []string{"ayse@example.com"}, sent[0].to)
	assert.Contains(t, sent[0].body, "Subject: "+alert.Title+"\r\n")
	assert.Contains(t, sent[0].body, ua.Message)
	assert.Contains(t, sent[0].body, "Your reported location: 36.8000, 31.4000")
}

func TestEmailTransport_MissingAddress(t *testing.T) {
	alert := testAlert(domain.SeverityHigh)
	ua := testUserAlert(alert)
	contacts := staticContacts{ua.UserID: {Phone: "+905551112233"}}
	var sent []sentMail
	tr := newTestEmailTransport(contacts, &sent, nil)

	err := tr.Deliver(context.Background(), domain.NewNotificationMessage(alert, ua, domain.ChannelEmail))
	require.ErrorIs(t, err, ErrNoAddress)
	assert.Empty(t, sent)
}

func TestEmailTransport_UnknownUser(t *testing.T) {
	alert := testAlert(domain.SeverityHigh)
	var sent []sentMail
	tr := newTestEmailTransport(staticContacts{}, &sent, nil)

	err := tr.Deliver(context.Background(), domain.NewNotificationMessage(alert, testUserAlert(alert), domain.ChannelEmail))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEmailTransport_SendFailure(t *testing.T) {
	alert := testAlert(domain.SeverityHigh)
	ua := testUserAlert(alert)
	contacts := staticContacts{ua.UserID: {Email: "ayse@example.com"}}
	var sent []sentMail
	tr := newTestEmailTransport(contacts, &sent, errors.New("421 try later"))

	err := tr.Deliver(context.Background(), domain.NewNotificationMessage(alert, ua, domain.ChannelEmail))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "421 try later")
}
