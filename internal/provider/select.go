package provider

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/docshare/portal-messaging/internal/config"
	"github.com/docshare/portal-messaging/internal/outbound"
	"github.com/docshare/portal-messaging/pkg/logging"
)

const (
	// WhatsAppProviderMeta sends through the Meta WhatsApp Cloud API.
	WhatsAppProviderMeta = "meta"
	// WhatsAppProviderTwilio sends through Twilio's WhatsApp gateway.
	WhatsAppProviderTwilio = "twilio"
	// EmailProviderSendGrid sends through the SendGrid API.
	EmailProviderSendGrid = "sendgrid"
	// EmailProviderSES sends through AWS SES.
	EmailProviderSES = "ses"
)

// Registry resolves the configured sender for each channel.
type Registry struct {
	byChannel map[outbound.Channel]Provider
}

// BuildRegistry instantiates one provider per enabled channel from config.
// Disabled channels get the dry-run sender so dispatch still completes.
// Returns an error when a channel is enabled but its provider cannot be
// configured.
func BuildRegistry(cfg *config.Config, sesClient *sesv2.Client, logger *logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.Default()
	}
	reg := &Registry{byChannel: map[outbound.Channel]Provider{}}

	wa, err := buildWhatsApp(cfg, logger)
	if err != nil {
		return nil, err
	}
	reg.byChannel[outbound.ChannelWhatsApp] = wa

	em, err := buildEmail(cfg, sesClient, logger)
	if err != nil {
		return nil, err
	}
	reg.byChannel[outbound.ChannelEmail] = em

	logger.Info("provider registry built",
		"whatsapp", wa.Name(),
		"email", em.Name(),
	)
	return reg, nil
}

// ForChannel returns the sender for a channel, or an error for channels the
// registry does not know.
func (r *Registry) ForChannel(channel outbound.Channel) (Provider, error) {
	p, ok := r.byChannel[channel]
	if !ok {
		return nil, fmt.Errorf("provider: no sender registered for channel %q", channel)
	}
	return p, nil
}

func buildWhatsApp(cfg *config.Config, logger *logging.Logger) (Provider, error) {
	if !cfg.WhatsAppEnable {
		return NewDisabledSender("whatsapp", logger), nil
	}
	switch strings.ToLower(cfg.WhatsAppProvider) {
	case WhatsAppProviderMeta:
		if cfg.MetaPhoneNumberID == "" || cfg.MetaAccessToken == "" {
			return nil, fmt.Errorf("provider: meta whatsapp enabled but WABA_PHONE_NUMBER_ID / WABA_TOKEN missing")
		}
		return NewMetaWhatsAppSender(cfg.MetaPhoneNumberID, cfg.MetaAccessToken, cfg.CountryCallingCode, logger), nil
	case WhatsAppProviderTwilio:
		if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" {
			return nil, fmt.Errorf("provider: twilio whatsapp enabled but TWILIO_ACCOUNT_SID / TWILIO_AUTH_TOKEN missing")
		}
		return NewTwilioWhatsAppSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioWhatsAppFrom, cfg.CountryCallingCode, logger), nil
	default:
		return nil, fmt.Errorf("provider: unknown WABA_PROVIDER %q", cfg.WhatsAppProvider)
	}
}

func buildEmail(cfg *config.Config, sesClient *sesv2.Client, logger *logging.Logger) (Provider, error) {
	if !cfg.EmailEnable {
		return NewDisabledSender("email", logger), nil
	}
	switch strings.ToLower(cfg.EmailProvider) {
	case EmailProviderSendGrid:
		sender := NewSendGridSender(SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if sender == nil {
			return nil, fmt.Errorf("provider: sendgrid email enabled but SENDGRID_API_KEY missing")
		}
		return sender, nil
	case EmailProviderSES:
		sender := NewSESSender(sesClient, SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger)
		if sender == nil {
			return nil, fmt.Errorf("provider: ses email enabled but no SES client available")
		}
		return sender, nil
	default:
		return nil, fmt.Errorf("provider: unknown EMAIL_PROVIDER %q", cfg.EmailProvider)
	}
}
