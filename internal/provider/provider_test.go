package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docshare/portal-messaging/internal/config"
	"github.com/docshare/portal-messaging/internal/outbound"
)

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(&Error{Provider: "meta", Permanent: true, Detail: "bad recipient"}))
	assert.False(t, IsPermanent(&Error{Provider: "meta", Detail: "timeout"}))
	assert.False(t, IsPermanent(errors.New("plain error")))
	wrapped := fmt.Errorf("dispatch: %w", &Error{Provider: "sendgrid", Permanent: true, Detail: "no address"})
	assert.True(t, IsPermanent(wrapped))
}

func TestDisabledSenderSynthesizesDryRun(t *testing.T) {
	sender := NewDisabledSender("whatsapp", nil)
	res, err := sender.Send(context.Background(), outbound.Message{
		ID:      uuid.New(),
		Channel: outbound.ChannelWhatsApp,
	})
	require.NoError(t, err)
	assert.Equal(t, DryRunID, res.ProviderMessageID)
	assert.Equal(t, "whatsapp disabled; no external send", res.Metadata["note"])
}

func TestBuildRegistryDisabledChannels(t *testing.T) {
	cfg := &config.Config{}
	reg, err := BuildRegistry(cfg, nil, nil)
	require.NoError(t, err)

	for _, channel := range []outbound.Channel{outbound.ChannelWhatsApp, outbound.ChannelEmail} {
		p, err := reg.ForChannel(channel)
		require.NoError(t, err)
		assert.Equal(t, "disabled", p.Name())
	}
}

func TestBuildRegistryMeta(t *testing.T) {
	cfg := &config.Config{
		WhatsAppEnable:     true,
		WhatsAppProvider:   WhatsAppProviderMeta,
		MetaPhoneNumberID:  "12345",
		MetaAccessToken:    "token",
		CountryCallingCode: "91",
	}
	reg, err := BuildRegistry(cfg, nil, nil)
	require.NoError(t, err)
	p, err := reg.ForChannel(outbound.ChannelWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, "meta", p.Name())
}

func TestBuildRegistryMissingCredentials(t *testing.T) {
	cases := []struct {
		name string
		cfg  *config.Config
	}{
		{"meta without token", &config.Config{WhatsAppEnable: true, WhatsAppProvider: WhatsAppProviderMeta}},
		{"twilio without sid", &config.Config{WhatsAppEnable: true, WhatsAppProvider: WhatsAppProviderTwilio}},
		{"sendgrid without key", &config.Config{EmailEnable: true, EmailProvider: EmailProviderSendGrid}},
		{"ses without client", &config.Config{EmailEnable: true, EmailProvider: EmailProviderSES}},
		{"unknown whatsapp provider", &config.Config{WhatsAppEnable: true, WhatsAppProvider: "smoke-signal"}},
		{"unknown email provider", &config.Config{EmailEnable: true, EmailProvider: "pigeon"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildRegistry(tc.cfg, nil, nil)
			assert.Error(t, err)
		})
	}
}

func TestSendGridMissingAddressIsPermanent(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "SG.test", FromEmail: "noreply@docshare.example"}, nil)
	require.NotNil(t, sender)
	_, err := sender.Send(context.Background(), outbound.Message{
		ID:           uuid.New(),
		Channel:      outbound.ChannelEmail,
		BodyRendered: "hello",
	})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestBuildRegistryTwilioFallback(t *testing.T) {
	cfg := &config.Config{
		WhatsAppEnable:     true,
		WhatsAppProvider:   WhatsAppProviderTwilio,
		TwilioAccountSID:   "AC111",
		TwilioAuthToken:    "secret",
		TwilioWhatsAppFrom: "whatsapp:+14155238886",
		CountryCallingCode: "91",
	}
	reg, err := BuildRegistry(cfg, nil, nil)
	require.NoError(t, err)
	p, err := reg.ForChannel(outbound.ChannelWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, "twilio", p.Name())
}
