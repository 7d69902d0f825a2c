// Package handlers contains the HTTP surface: provider webhook reconcilers
// and the admin messaging API.
package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docshare/portal-messaging/internal/outbound"
	"github.com/docshare/portal-messaging/pkg/logging"
)

// statusApplier applies a webhook-driven status transition keyed by provider
// message id. Unmatched ids and stale transitions report false, nil.
type statusApplier interface {
	ApplyProviderStatus(ctx context.Context, channel outbound.Channel, providerMessageID string, target outbound.Status, rawEvent []byte) (bool, error)
	ApplyProviderStatusByPrefix(ctx context.Context, channel outbound.Channel, idPrefix string, target outbound.Status, rawEvent []byte) (bool, error)
}

type processedEventStore interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

type webhookMetrics interface {
	ObserveWebhook(provider, result string)
	ObserveWebhookLatency(provider string, seconds float64)
}

type webhookResponse struct {
	OK      bool `json:"ok"`
	Updated int  `json:"updated"`
}

func writeWebhookResponse(w http.ResponseWriter, updated int) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(webhookResponse{OK: true, Updated: updated})
}

// metaStatusMap translates Meta's delivery vocabulary into the internal
// lifecycle. Absent entries are informational and skipped.
var metaStatusMap = map[string]outbound.Status{
	"sent":             outbound.StatusDelivered,
	"delivered":        outbound.StatusDelivered,
	"read":             outbound.StatusDelivered,
	"failed":           outbound.StatusFailed,
	"failed_permanent": outbound.StatusFailed,
}

// WhatsAppWebhookHandler reconciles Meta Cloud API delivery callbacks onto
// outbound message rows.
type WhatsAppWebhookHandler struct {
	store     statusApplier
	processed processedEventStore
	appSecret string
	metrics   webhookMetrics
	logger    *logging.Logger
}

func NewWhatsAppWebhookHandler(store statusApplier, processed processedEventStore, appSecret string, logger *logging.Logger) *WhatsAppWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WhatsAppWebhookHandler{
		store:     store,
		processed: processed,
		appSecret: strings.TrimSpace(appSecret),
		logger:    logger,
	}
}

// WithMetrics attaches webhook counters.
func (h *WhatsAppWebhookHandler) WithMetrics(m webhookMetrics) *WhatsAppWebhookHandler {
	h.metrics = m
	return h
}

type metaStatusEvent struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type metaWebhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Statuses []json.RawMessage `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
	// Flat form accepted for manual testing.
	Statuses []json.RawMessage `json:"statuses"`
}

func (h *WhatsAppWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		if h.metrics != nil {
			h.metrics.ObserveWebhookLatency("whatsapp", time.Since(start).Seconds())
		}
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if !h.validSignature(r, body) {
		h.logger.Warn("whatsapp webhook signature rejected")
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	var payload metaWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	statuses := make([]json.RawMessage, 0, len(payload.Statuses))
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			statuses = append(statuses, change.Value.Statuses...)
		}
	}
	if len(statuses) == 0 {
		statuses = payload.Statuses
	}

	updated := 0
	for _, raw := range statuses {
		if h.applyStatus(r.Context(), raw) {
			updated++
		}
	}
	writeWebhookResponse(w, updated)
}

func (h *WhatsAppWebhookHandler) applyStatus(ctx context.Context, raw json.RawMessage) bool {
	var ev metaStatusEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		h.logger.Warn("whatsapp status event malformed", "error", err)
		return false
	}
	msgID := ev.ID
	if msgID == "" {
		msgID = ev.MessageID
	}
	if msgID == "" || ev.Status == "" {
		return false
	}
	target, ok := metaStatusMap[ev.Status]
	if !ok {
		h.observe("ignored")
		return false
	}

	eventKey := msgID + "|" + ev.Status + "|" + ev.Timestamp
	if h.processed != nil {
		seen, err := h.processed.AlreadyProcessed(ctx, "whatsapp", eventKey)
		if err != nil {
			h.logger.Error("whatsapp processed lookup failed", "error", err)
			return false
		}
		if seen {
			h.observe("replayed")
			return false
		}
	}

	applied, err := h.store.ApplyProviderStatus(ctx, outbound.ChannelWhatsApp, msgID, target, raw)
	if err != nil {
		h.logger.Error("whatsapp status apply failed", "error", err, "provider_message_id", msgID)
		return false
	}
	if !applied {
		// Untracked id or stale transition.
		h.observe("unmatched")
		return false
	}
	if h.processed != nil {
		if _, err := h.processed.MarkProcessed(ctx, "whatsapp", eventKey); err != nil {
			h.logger.Warn("whatsapp mark processed failed", "error", err)
		}
	}
	h.observe("applied")
	h.logger.Info("whatsapp delivery status applied",
		"provider_message_id", msgID,
		"status", target,
	)
	return true
}

// validSignature verifies X-Hub-Signature-256 over the raw body. With no
// secret configured, checking is skipped.
func (h *WhatsAppWebhookHandler) validSignature(r *http.Request, body []byte) bool {
	if h.appSecret == "" {
		return true
	}
	sig := r.Header.Get("X-Hub-Signature-256")
	if !strings.HasPrefix(sig, "sha256=") {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.TrimPrefix(sig, "sha256=")), []byte(expected))
}

func (h *WhatsAppWebhookHandler) observe(result string) {
	if h.metrics != nil {
		h.metrics.ObserveWebhook("whatsapp", result)
	}
}
