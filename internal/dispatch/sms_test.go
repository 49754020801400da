package dispatch

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeMessages struct {
	params []*twilioApi.CreateMessageParams
}

func (f *fakeMessages) CreateMessage(p *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = append(f.params, p)
	return &twilioApi.ApiV2010Message{}, nil
}

func TestSMSTransport_Deliver(t *testing.T) {
	alert := testAlert(domain.SeverityCritical)
	ua := testUserAlert(alert)
	api := &fakeMessages{}
	tr := &SMSTransport{
		api:      api,
		from:     "+15005550006",
		contacts: staticContacts{ua.UserID: {Phone: "+905551112233"}},
		limiter:  newLimiter(0),
	}

	require.NoError(t, tr.Deliver(context.Background(), domain.NewNotificationMessage(alert, ua, domain.ChannelSMS)))

	require.Len(t, api.params, 1)
	p := api.params[0]
	assert.Equal(t, "+905551112233", *p.To)
	assert.Equal(t, "+15005550006", *p.From)
	assert.Equal(t, alert.Title+"\n"+ua.Message, *p.Body)
}

func TestSMSTransport_RejectsNonE164Phone(t *testing.T) {
	alert := testAlert(domain.SeverityCritical)
	ua := testUserAlert(alert)
	api := &fakeMessages{}
	tr := &SMSTransport{
		api:      api,
		contacts: staticContacts{ua.UserID: {Phone: "05551112233"}},
		limiter:  newLimiter(0),
	}

	err := tr.Deliver(context.Background(), domain.NewNotificationMessage(alert, ua, domain.ChannelSMS))
	require.ErrorIs(t, err, ErrNoAddress)
	assert.Empty(t, api.params)
}

func TestSMSBody_Truncates(t *testing.T) {
	msg := domain.NotificationMessage{Title: "Yangın", Body: strings.Repeat("ç", 1000)}

	got := smsBody(msg)
	assert.Equal(t, maxSMSLength, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.True(t, strings.HasPrefix(got, "Yangın\n"))
}
