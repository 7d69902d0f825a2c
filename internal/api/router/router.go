package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/docshare/portal-messaging/internal/http/handlers"
	httpmiddleware "github.com/docshare/portal-messaging/internal/http/middleware"
	"github.com/docshare/portal-messaging/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	WhatsAppWebhook *handlers.WhatsAppWebhookHandler
	TwilioWebhook   *handlers.TwilioWebhookHandler
	SendGridWebhook *handlers.SendGridWebhookHandler
	AdminMessages   *handlers.AdminMessagesHandler
	AdminAuthSecret string
	MetricsHandler  http.Handler
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		public.Route("/hooks", func(hooks chi.Router) {
			if cfg.WhatsAppWebhook != nil {
				hooks.Post("/whatsapp", cfg.WhatsAppWebhook.Handle)
			}
			if cfg.TwilioWebhook != nil {
				hooks.Post("/twilio", cfg.TwilioWebhook.Handle)
			}
			if cfg.SendGridWebhook != nil {
				hooks.Post("/sendgrid", cfg.SendGridWebhook.Handle)
			}
		})
	})

	// Admin routes (protected by JWT)
	if cfg.AdminMessages != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Post("/messages:send", cfg.AdminMessages.Send)
			admin.With(requireClinicID).Get("/messages", cfg.AdminMessages.List)
		})
	}

	return r
}
