package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/docshare/portal-messaging/internal/outbound"
	"github.com/docshare/portal-messaging/pkg/logging"
)

var metaSendTracer = otel.Tracer("docshare.internal.provider.whatsapp_meta")

const metaGraphBase = "https://graph.facebook.com/v17.0"

// MetaWhatsAppSender posts text messages through the Meta WhatsApp Cloud API.
type MetaWhatsAppSender struct {
	phoneNumberID string
	accessToken   string
	callingCode   string
	baseURL       string
	httpClient    *http.Client
	logger        *logging.Logger
}

// NewMetaWhatsAppSender builds a sender with sane defaults.
func NewMetaWhatsAppSender(phoneNumberID, accessToken, callingCode string, logger *logging.Logger) *MetaWhatsAppSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &MetaWhatsAppSender{
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		callingCode:   callingCode,
		baseURL:       metaGraphBase,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		logger: logger,
	}
}

var _ Provider = (*MetaWhatsAppSender)(nil)

func (s *MetaWhatsAppSender) Name() string { return "meta" }

// WithBaseURL overrides the Graph API endpoint, for tests.
func (s *MetaWhatsAppSender) WithBaseURL(base string) *MetaWhatsAppSender {
	s.baseURL = base
	return s
}

type metaTextPayload struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             metaText `json:"text"`
}

type metaText struct {
	Body string `json:"body"`
}

type metaSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send posts a single text message. Recipients are stored as national
// numbers; the calling code is prepended here.
func (s *MetaWhatsAppSender) Send(ctx context.Context, m outbound.Message) (Result, error) {
	if s.phoneNumberID == "" || s.accessToken == "" {
		return Result{}, &Error{Provider: s.Name(), Permanent: true, Detail: "WABA_PHONE_NUMBER_ID / WABA_TOKEN missing"}
	}
	if m.Recipient == "" {
		return Result{}, &Error{Provider: s.Name(), Permanent: true, Detail: "recipient required"}
	}

	ctx, span := metaSendTracer.Start(ctx, "provider.meta.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("docshare.message_id", m.ID.String()),
		attribute.String("docshare.channel", string(m.Channel)),
	)

	payload := metaTextPayload{
		MessagingProduct: "whatsapp",
		To:               s.callingCode + m.Recipient,
		Type:             "text",
		Text:             metaText{Body: m.BodyRendered},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("provider: marshal meta payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/messages", s.baseURL, s.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return Result{}, fmt.Errorf("provider: build meta request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.Header.Set("Content-Type", "application/json")

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
			Detail:    fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body)),
		}
		span.RecordError(sendErr)
		return Result{}, sendErr
	}

	var parsed metaSendResponse
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Messages) == 0 || parsed.Messages[0].ID == "" {
		// A 2xx without a message id means we cannot correlate delivery
		// webhooks later; treat it as a failed send and retry.
		return Result{}, &Error{Provider: s.Name(), Detail: "response missing message id"}
	}

	s.logger.Info("whatsapp message sent via meta",
		"message_id", m.ID,
		"provider_message_id", parsed.Messages[0].ID,
	)
	return Result{
		ProviderMessageID: parsed.Messages[0].ID,
		Metadata:          map[string]any{"provider": "meta"},
	}, nil
}
