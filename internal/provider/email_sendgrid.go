package provider

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/docshare/portal-messaging/internal/outbound"
	"github.com/docshare/portal-messaging/pkg/logging"
)

const defaultEmailSubject = "Patient Education Message"

// SendGridSender delivers the email channel via SendGrid.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender creates a new SendGrid email sender. Returns nil when no
// API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "DocShare"
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

var _ Provider = (*SendGridSender)(nil)

func (s *SendGridSender) Name() string { return "sendgrid" }

func (s *SendGridSender) Send(ctx context.Context, m outbound.Message) (Result, error) {
	if s.client == nil {
		return Result{}, &Error{Provider: s.Name(), Permanent: true, Detail: "sendgrid client not configured"}
	}
	if m.ToEmail == "" {
		return Result{}, &Error{Provider: s.Name(), Permanent: true, Detail: "to_email required for email channel"}
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail("", m.ToEmail)
	message := mail.NewSingleEmail(from, defaultEmailSubject, to, m.BodyRendered, m.BodyRendered)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return Result{}, &Error{Provider: s.Name(), Detail: fmt.Sprintf("send failed: %v", err)}
	}
	if response.StatusCode >= 400 {
		return Result{}, &Error{
			Provider:  s.Name(),
			Permanent: permanentStatus(response.StatusCode),
			Detail:    fmt.Sprintf("status %d: %s", response.StatusCode, response.Body),
		}
	}

	// SendGrid does not echo a message id in the body; correlate webhooks
	// through the X-Message-Id response header instead.
	providerID := firstHeader(response.Headers, "X-Message-Id", "X-Message-ID")
	if providerID == "" {
		providerID = "accepted"
	}

	s.logger.Info("email sent via sendgrid",
		"message_id", m.ID,
		"provider_message_id", providerID,
		"status", response.StatusCode,
	)
	return Result{
		ProviderMessageID: providerID,
		Metadata:          map[string]any{"provider": "sendgrid", "status_code": response.StatusCode},
	}, nil
}

func firstHeader(headers map[string][]string, keys ...string) string {
	for _, key := range keys {
		if vals := headers[key]; len(vals) > 0 && vals[0] != "" {
			return vals[0]
		}
	}
	return ""
}
