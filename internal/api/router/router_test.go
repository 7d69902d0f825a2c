package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docshare/portal-messaging/internal/http/handlers"
	"github.com/docshare/portal-messaging/internal/outbound"
)

type noopApplier struct{}

func (noopApplier) ApplyProviderStatus(context.Context, outbound.Channel, string, outbound.Status, []byte) (bool, error) {
	return false, nil
}

func (noopApplier) ApplyProviderStatusByPrefix(context.Context, outbound.Channel, string, outbound.Status, []byte) (bool, error) {
	return false, nil
}

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	return New(&Config{
		WhatsAppWebhook: handlers.NewWhatsAppWebhookHandler(noopApplier{}, nil, "", nil),
		SendGridWebhook: handlers.NewSendGridWebhookHandler(noopApplier{}, nil, nil),
		TwilioWebhook:   handlers.NewTwilioWebhookHandler(noopApplier{}, nil, "", nil),
		AdminMessages:   handlers.NewAdminMessagesHandler(nil, nil, nil, nil),
		AdminAuthSecret: "secret",
	})
}

func TestHealthEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestWebhookRoutesArePublic(t *testing.T) {
	router := testRouter(t)
	for _, path := range []string{"/hooks/whatsapp", "/hooks/sendgrid"} {
		body := `{"statuses":[]}`
		if path == "/hooks/sendgrid" {
			body = `[]`
		}
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "path %s", path)
	}
}

func TestAdminRoutesRequireJWT(t *testing.T) {
	router := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/messages", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminListRequiresClinicHeader(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/messages", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func adminToken(t *testing.T) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return signed
}
