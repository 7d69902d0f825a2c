package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docshare/portal-messaging/internal/outbound"
	"github.com/docshare/portal-messaging/pkg/logging"
)

// sendgridStatusMap translates SendGrid event types into the internal
// lifecycle. Absent entries (open tracking toggles, unsubscribes) are
// informational and skipped.
var sendgridStatusMap = map[string]outbound.Status{
	"processed":  outbound.StatusSent,
	"deferred":   outbound.StatusSent,
	"delivered":  outbound.StatusDelivered,
	"open":       outbound.StatusDelivered,
	"bounce":     outbound.StatusFailed,
	"dropped":    outbound.StatusFailed,
	"spamreport": outbound.StatusFailed,
}

// SendGridWebhookHandler reconciles SendGrid event webhook batches onto
// outbound email rows.
type SendGridWebhookHandler struct {
	store     statusApplier
	processed processedEventStore
	metrics   webhookMetrics
	logger    *logging.Logger
}

func NewSendGridWebhookHandler(store statusApplier, processed processedEventStore, logger *logging.Logger) *SendGridWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SendGridWebhookHandler{
		store:     store,
		processed: processed,
		logger:    logger,
	}
}

// WithMetrics attaches webhook counters.
func (h *SendGridWebhookHandler) WithMetrics(m webhookMetrics) *SendGridWebhookHandler {
	h.metrics = m
	return h
}

type sendgridEvent struct {
	Event       string `json:"event"`
	SGMessageID string `json:"sg_message_id"`
	SMTPID      string `json:"smtp-id"`
	SGEventID   string `json:"sg_event_id"`
}

func (h *SendGridWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		if h.metrics != nil {
			h.metrics.ObserveWebhookLatency("sendgrid", time.Since(start).Seconds())
		}
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var events []json.RawMessage
	if err := json.Unmarshal(body, &events); err != nil {
		http.Error(w, "expected JSON array", http.StatusBadRequest)
		return
	}

	updated := 0
	for _, raw := range events {
		if h.applyEvent(r.Context(), raw) {
			updated++
		}
	}
	writeWebhookResponse(w, updated)
}

func (h *SendGridWebhookHandler) applyEvent(ctx context.Context, raw json.RawMessage) bool {
	var ev sendgridEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		h.logger.Warn("sendgrid event malformed", "error", err)
		return false
	}
	sgID := ev.SGMessageID
	if sgID == "" {
		sgID = ev.SMTPID
	}
	if sgID == "" || ev.Event == "" {
		return false
	}
	target, ok := sendgridStatusMap[ev.Event]
	if !ok {
		h.observe("ignored")
		return false
	}

	// sg_message_id carries a ".filter..." routing suffix the send API's
	// X-Message-Id header did not include; match on the prefix.
	prefix := strings.SplitN(sgID, ".filter", 2)[0]

	eventKey := ev.SGEventID
	if eventKey == "" {
		eventKey = prefix + "|" + ev.Event
	}
	if h.processed != nil {
		seen, err := h.processed.AlreadyProcessed(ctx, "sendgrid", eventKey)
		if err != nil {
			h.logger.Error("sendgrid processed lookup failed", "error", err)
			return false
		}
		if seen {
			h.observe("replayed")
			return false
		}
	}

	applied, err := h.store.ApplyProviderStatusByPrefix(ctx, outbound.ChannelEmail, prefix, target, raw)
	if err != nil {
		h.logger.Error("sendgrid status apply failed", "error", err, "provider_message_id", prefix)
		return false
	}
	if !applied {
		h.observe("unmatched")
		return false
	}
	if h.processed != nil {
		if _, err := h.processed.MarkProcessed(ctx, "sendgrid", eventKey); err != nil {
			h.logger.Warn("sendgrid mark processed failed", "error", err)
		}
	}
	h.observe("applied")
	h.logger.Info("sendgrid delivery status applied",
		"provider_message_id", prefix,
		"event", ev.Event,
		"status", target,
	)
	return true
}

func (h *SendGridWebhookHandler) observe(result string) {
	if h.metrics != nil {
		h.metrics.ObserveWebhook("sendgrid", result)
	}
}
