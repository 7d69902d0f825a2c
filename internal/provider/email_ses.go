package provider

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/docshare/portal-messaging/internal/outbound"
	"github.com/docshare/portal-messaging/pkg/logging"
)

// SESSender delivers the email channel via AWS SES. SES has no delivery
// webhook wired here, so rows sent through it settle at sent rather than
// delivered.
type SESSender struct {
	client    *sesv2.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SESConfig holds configuration for AWS SES.
type SESConfig struct {
	FromEmail string
	FromName  string
}

// NewSESSender creates a new AWS SES email sender. Returns nil when no client
// is available.
func NewSESSender(client *sesv2.Client, cfg SESConfig, logger *logging.Logger) *SESSender {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "DocShare"
	}
	return &SESSender{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

var _ Provider = (*SESSender)(nil)

func (s *SESSender) Name() string { return "ses" }

func (s *SESSender) Send(ctx context.Context, m outbound.Message) (Result, error) {
	if s.client == nil {
		return Result{}, &Error{Provider: s.Name(), Permanent: true, Detail: "ses client not configured"}
	}
	if m.ToEmail == "" {
		return Result{}, &Error{Provider: s.Name(), Permanent: true, Detail: "to_email required for email channel"}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)),
		Destination: &types.Destination{
			ToAddresses: []string{m.ToEmail},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(defaultEmailSubject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(m.BodyRendered),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	output, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return Result{}, &Error{Provider: s.Name(), Detail: fmt.Sprintf("send failed: %v", err)}
	}

	providerID := aws.ToString(output.MessageId)
	s.logger.Info("email sent via ses",
		"message_id", m.ID,
		"provider_message_id", providerID,
	)
	return Result{
		ProviderMessageID: providerID,
		Metadata:          map[string]any{"provider": "ses"},
	}, nil
}
