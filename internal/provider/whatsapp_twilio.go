package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/docshare/portal-messaging/internal/outbound"
	"github.com/docshare/portal-messaging/pkg/logging"
)

var twilioSendTracer = otel.Tracer("docshare.internal.provider.whatsapp_twilio")

const twilioAPIBase = "https://api.twilio.com"

// TwilioWhatsAppSender posts WhatsApp messages using Twilio's REST API. It is
// the fallback provider when the Meta Cloud API is not configured.
type TwilioWhatsAppSender struct {
	accountSID  string
	authToken   string
	from        string
	callingCode string
	baseURL     string
	httpClient  *http.Client
	logger      *logging.Logger
}

// NewTwilioWhatsAppSender builds a sender with sane defaults. from is the
// whatsapp:+E164 sender address.
func NewTwilioWhatsAppSender(accountSID, authToken, from, callingCode string, logger *logging.Logger) *TwilioWhatsAppSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioWhatsAppSender{
		accountSID:  accountSID,
		authToken:   authToken,
		from:        from,
		callingCode: callingCode,
		baseURL:     twilioAPIBase,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		logger: logger,
	}
}

var _ Provider = (*TwilioWhatsAppSender)(nil)

func (s *TwilioWhatsAppSender) Name() string { return "twilio" }

// WithBaseURL overrides the API endpoint, for tests.
func (s *TwilioWhatsAppSender) WithBaseURL(base string) *TwilioWhatsAppSender {
	s.baseURL = base
	return s
}

type twilioSendResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioAPIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

func (s *TwilioWhatsAppSender) Send(ctx context.Context, m outbound.Message) (Result, error) {
	if s.accountSID == "" || s.authToken == "" {
		return Result{}, &Error{Provider: s.Name(), Permanent: true, Detail: "TWILIO_ACCOUNT_SID / TWILIO_AUTH_TOKEN missing"}
	}
	if m.Recipient == "" {
		return Result{}, &Error{Provider: s.Name(), Permanent: true, Detail: "recipient required"}
	}

	ctx, span := twilioSendTracer.Start(ctx, "provider.twilio.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("docshare.message_id", m.ID.String()),
		attribute.String("docshare.channel", string(m.Channel)),
	)

	payload := url.Values{}
	payload.Set("To", fmt.Sprintf("whatsapp:+%s%s", s.callingCode, m.Recipient))
	payload.Set("From", s.from)
	payload.Set("Body", m.BodyRendered)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("provider: build twilio request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return Result{}, &Error{Provider: s.Name(), Detail: err.Error()}
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		sendErr := &Error{
			Provider:  s.Name(),
			Permanent: permanentStatus(resp.StatusCode),
			Detail:    formatTwilioError(resp.StatusCode, body),
		}
		span.RecordError(sendErr)
		return Result{}, sendErr
	}

	var parsed twilioSendResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.SID == "" {
		return Result{}, &Error{Provider: s.Name(), Detail: "response missing message sid"}
	}

	s.logger.Info("whatsapp message sent via twilio",
		"message_id", m.ID,
		"provider_message_id", parsed.SID,
	)
	meta := map[string]any{"provider": "twilio"}
	if parsed.Status != "" {
		meta["provider_status"] = parsed.Status
	}
	return Result{ProviderMessageID: parsed.SID, Metadata: meta}, nil
}

func formatTwilioError(status int, body []byte) string {
	var parsed twilioAPIError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return fmt.Sprintf("status %d: %s (code %d)", status, parsed.Message, parsed.Code)
	}
	return fmt.Sprintf("status %d", status)
}
