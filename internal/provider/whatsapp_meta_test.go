package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docshare/portal-messaging/internal/outbound"
)

func metaMessage() outbound.Message {
	return outbound.Message{
		ID:           uuid.New(),
		Channel:      outbound.ChannelWhatsApp,
		Recipient:    "9876543210",
		TemplateKey:  "share_video",
		BodyRendered: "Dr. Rao shared a video with you",
	}
}

func TestMetaSendSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.HBgMOTE5ODc2"}]}`))
	}))
	defer srv.Close()

	sender := NewMetaWhatsAppSender("12345", "token-abc", "91", nil).WithBaseURL(srv.URL)
	res, err := sender.Send(context.Background(), metaMessage())
	require.NoError(t, err)

	assert.Equal(t, "wamid.HBgMOTE5ODc2", res.ProviderMessageID)
	assert.Equal(t, "/12345/messages", gotPath)
	assert.Equal(t, "Bearer token-abc", gotAuth)
	assert.Equal(t, "whatsapp", gotBody["messaging_product"])
	assert.Equal(t, "919876543210", gotBody["to"], "calling code must be prepended")
}

func TestMetaSendPermanentOn4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"invalid recipient"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	sender := NewMetaWhatsAppSender("12345", "token-abc", "91", nil).WithBaseURL(srv.URL)
	_, err := sender.Send(context.Background(), metaMessage())
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestMetaSendTransientOn429And5xx(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
		}))
		sender := NewMetaWhatsAppSender("12345", "token-abc", "91", nil).WithBaseURL(srv.URL)
		_, err := sender.Send(context.Background(), metaMessage())
		srv.Close()
		require.Error(t, err)
		assert.False(t, IsPermanent(err), "status %d must stay retryable", code)
	}
}

func TestMetaSendMissingMessageID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"messages":[]}`))
	}))
	defer srv.Close()

	sender := NewMetaWhatsAppSender("12345", "token-abc", "91", nil).WithBaseURL(srv.URL)
	_, err := sender.Send(context.Background(), metaMessage())
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestMetaSendMissingCredentials(t *testing.T) {
	sender := NewMetaWhatsAppSender("", "", "91", nil)
	_, err := sender.Send(context.Background(), metaMessage())
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}
