package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/docshare/portal-messaging/internal/outbound"
	"github.com/docshare/portal-messaging/pkg/logging"
)

// twilioStatusMap translates Twilio message status callbacks into the
// internal lifecycle. Absent entries (queued, sending, accepted) are
// informational and skipped.
var twilioStatusMap = map[string]outbound.Status{
	"sent":        outbound.StatusDelivered,
	"delivered":   outbound.StatusDelivered,
	"read":        outbound.StatusDelivered,
	"failed":      outbound.StatusFailed,
	"undelivered": outbound.StatusFailed,
}

// TwilioWebhookHandler reconciles Twilio status callbacks (form-encoded)
// onto outbound WhatsApp rows.
type TwilioWebhookHandler struct {
	store     statusApplier
	processed processedEventStore
	authToken string
	publicURL string
	metrics   webhookMetrics
	logger    *logging.Logger
}

func NewTwilioWebhookHandler(store statusApplier, processed processedEventStore, authToken string, logger *logging.Logger) *TwilioWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioWebhookHandler{
		store:     store,
		processed: processed,
		authToken: strings.TrimSpace(authToken),
		logger:    logger,
	}
}

// WithPublicURL pins the externally-visible callback URL used for signature
// verification. Without it the URL is reconstructed from the request, which
// only works when the proxy forwards Host and X-Forwarded-Proto intact.
func (h *TwilioWebhookHandler) WithPublicURL(u string) *TwilioWebhookHandler {
	h.publicURL = strings.TrimSpace(u)
	return h
}

// WithMetrics attaches webhook counters.
func (h *TwilioWebhookHandler) WithMetrics(m webhookMetrics) *TwilioWebhookHandler {
	h.metrics = m
	return h
}

func (h *TwilioWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		if h.metrics != nil {
			h.metrics.ObserveWebhookLatency("twilio", time.Since(start).Seconds())
		}
	}()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form payload", http.StatusBadRequest)
		return
	}

	if !h.validSignature(r) {
		h.logger.Warn("twilio webhook signature rejected")
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	updated := 0
	if h.applyCallback(r.Context(), r.PostForm) {
		updated = 1
	}
	writeWebhookResponse(w, updated)
}

func (h *TwilioWebhookHandler) applyCallback(ctx context.Context, form url.Values) bool {
	sid := form.Get("MessageSid")
	status := form.Get("MessageStatus")
	if sid == "" || status == "" {
		return false
	}
	target, ok := twilioStatusMap[status]
	if !ok {
		h.observe("ignored")
		return false
	}

	eventKey := sid + "|" + status
	if h.processed != nil {
		seen, err := h.processed.AlreadyProcessed(ctx, "twilio", eventKey)
		if err != nil {
			h.logger.Error("twilio processed lookup failed", "error", err)
			return false
		}
		if seen {
			h.observe("replayed")
			return false
		}
	}

	rawEvent, _ := json.Marshal(map[string]string{
		"message_sid":    sid,
		"message_status": status,
		"error_code":     form.Get("ErrorCode"),
	})
	applied, err := h.store.ApplyProviderStatus(ctx, outbound.ChannelWhatsApp, sid, target, rawEvent)
	if err != nil {
		h.logger.Error("twilio status apply failed", "error", err, "provider_message_id", sid)
		return false
	}
	if !applied {
		h.observe("unmatched")
		return false
	}
	if h.processed != nil {
		if _, err := h.processed.MarkProcessed(ctx, "twilio", eventKey); err != nil {
			h.logger.Warn("twilio mark processed failed", "error", err)
		}
	}
	h.observe("applied")
	h.logger.Info("twilio delivery status applied",
		"provider_message_id", sid,
		"status", target,
	)
	return true
}

// validSignature checks X-Twilio-Signature over the callback URL plus the
// sorted form parameters. With no auth token configured, checking is
// skipped.
func (h *TwilioWebhookHandler) validSignature(r *http.Request) bool {
	if h.authToken == "" {
		return true
	}
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	callbackURL := h.publicURL
	if callbackURL == "" {
		callbackURL = requestURL(r)
	}
	expected := computeTwilioSignature(buildTwilioSignaturePayload(callbackURL, r.PostForm), h.authToken)
	return hmac.Equal([]byte(signature), []byte(expected))
}

func buildTwilioSignaturePayload(callbackURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(callbackURL)
	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}
	return payload.String()
}

func computeTwilioSignature(data, key string) string {
	h := hmac.New(sha1.New, []byte(key))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (h *TwilioWebhookHandler) observe(result string) {
	if h.metrics != nil {
		h.metrics.ObserveWebhook("twilio", result)
	}
}
