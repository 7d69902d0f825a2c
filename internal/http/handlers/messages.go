package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/docshare/portal-messaging/internal/outbound"
	"github.com/docshare/portal-messaging/internal/templates"
	"github.com/docshare/portal-messaging/internal/tenancy"
	"github.com/docshare/portal-messaging/pkg/logging"
)

type messageRenderer interface {
	Render(ctx context.Context, key, language, channel string, tctx map[string]string) (string, error)
}

type messageCreator interface {
	Create(ctx context.Context, in outbound.CreateInput) (*outbound.Message, error)
}

type messageLister interface {
	List(ctx context.Context, f outbound.ListFilter) ([]*outbound.Message, error)
}

// AdminMessagesHandler hosts the privileged messaging endpoints: render-and-
// send, and the dashboard read projection.
type AdminMessagesHandler struct {
	renderer messageRenderer
	service  messageCreator
	store    messageLister
	logger   *logging.Logger
}

func NewAdminMessagesHandler(renderer messageRenderer, service messageCreator, store messageLister, logger *logging.Logger) *AdminMessagesHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminMessagesHandler{
		renderer: renderer,
		service:  service,
		store:    store,
		logger:   logger,
	}
}

type sendMessageRequest struct {
	ClinicID    string            `json:"clinic_id"`
	ShareRef    string            `json:"share_ref,omitempty"`
	Channel     string            `json:"channel"`
	Recipient   string            `json:"recipient,omitempty"`
	ToEmail     string            `json:"to_email,omitempty"`
	Language    string            `json:"language,omitempty"`
	TemplateKey string            `json:"template_key"`
	Context     map[string]string `json:"context,omitempty"`
}

type sendMessageResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Send renders the requested template and enqueues the message.
func (h *AdminMessagesHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	clinicID, err := uuid.Parse(req.ClinicID)
	if err != nil {
		http.Error(w, "invalid clinic_id", http.StatusBadRequest)
		return
	}
	var shareRef *uuid.UUID
	if req.ShareRef != "" {
		parsed, err := uuid.Parse(req.ShareRef)
		if err != nil {
			http.Error(w, "invalid share_ref", http.StatusBadRequest)
			return
		}
		shareRef = &parsed
	}
	if req.Language == "" {
		req.Language = templates.FallbackLanguage
	}

	body, err := h.renderer.Render(r.Context(), req.TemplateKey, req.Language, req.Channel, req.Context)
	if err != nil {
		if errors.Is(err, templates.ErrTemplateNotFound) || errors.Is(err, templates.ErrTranslationMissing) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("template render failed", "error", err, "template_key", req.TemplateKey)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}

	msg, err := h.service.Create(r.Context(), outbound.CreateInput{
		ClinicID:     clinicID,
		ShareRef:     shareRef,
		Channel:      outbound.Channel(req.Channel),
		Recipient:    req.Recipient,
		ToEmail:      req.ToEmail,
		Language:     req.Language,
		TemplateKey:  req.TemplateKey,
		BodyRendered: body,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(sendMessageResponse{
		ID:     msg.ID.String(),
		Status: string(msg.Status),
	})
}

type messageView struct {
	ID                string     `json:"id"`
	Channel           string     `json:"channel"`
	Recipient         string     `json:"recipient,omitempty"`
	ToEmail           string     `json:"to_email,omitempty"`
	TemplateKey       string     `json:"template_key"`
	Language          string     `json:"language"`
	Status            string     `json:"status"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	Attempts          int        `json:"attempts"`
	CreatedAt         time.Time  `json:"created_at"`
	NextAttemptAt     *time.Time `json:"next_attempt_at,omitempty"`
}

// List serves the dashboard read projection, scoped to the clinic in the
// tenancy context.
func (h *AdminMessagesHandler) List(w http.ResponseWriter, r *http.Request) {
	clinicRaw, ok := tenancy.ClinicIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing clinic scope", http.StatusBadRequest)
		return
	}
	clinicID, err := uuid.Parse(clinicRaw)
	if err != nil {
		http.Error(w, "invalid clinic scope", http.StatusBadRequest)
		return
	}

	filter := outbound.ListFilter{
		ClinicID: clinicID,
		Channel:  outbound.Channel(r.URL.Query().Get("channel")),
		Status:   outbound.Status(r.URL.Query().Get("status")),
	}
	if since := r.URL.Query().Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			http.Error(w, "invalid since timestamp", http.StatusBadRequest)
			return
		}
		filter.Since = &ts
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}

	msgs, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("message list failed", "error", err, "clinic_id", clinicID)
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}

	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, messageView{
			ID:                m.ID.String(),
			Channel:           string(m.Channel),
			Recipient:         m.Recipient,
			ToEmail:           m.ToEmail,
			TemplateKey:       m.TemplateKey,
			Language:          m.Language,
			Status:            string(m.Status),
			ProviderMessageID: m.ProviderMessageID,
			Attempts:          m.Attempts,
			CreatedAt:         m.CreatedAt,
			NextAttemptAt:     m.NextAttemptAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"messages": views})
}
