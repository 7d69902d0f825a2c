package provider

import (
	"context"
	"fmt"

	"github.com/docshare/portal-messaging/internal/outbound"
	"github.com/docshare/portal-messaging/pkg/logging"
)

// DryRunID is the synthetic provider message id recorded when a channel is
// disabled. Not unique across rows, and excluded from the provider id index.
const DryRunID = "dry-run"

// DisabledSender satisfies sends without any external call, for environments
// where a channel is turned off. Rows still flow through the normal status
// machine and settle at sent.
type DisabledSender struct {
	channel string
	note    string
	logger  *logging.Logger
}

func NewDisabledSender(channel string, logger *logging.Logger) *DisabledSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &DisabledSender{
		channel: channel,
		note:    fmt.Sprintf("%s disabled; no external send", channel),
		logger:  logger,
	}
}

var _ Provider = (*DisabledSender)(nil)

func (s *DisabledSender) Name() string { return "disabled" }

func (s *DisabledSender) Send(_ context.Context, m outbound.Message) (Result, error) {
	s.logger.Info("dry-run send, channel disabled",
		"message_id", m.ID,
		"channel", m.Channel,
		"template_key", m.TemplateKey,
	)
	return Result{
		ProviderMessageID: DryRunID,
		Metadata:          map[string]any{"note": s.note},
	}, nil
}
