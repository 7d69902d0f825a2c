package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docshare/portal-messaging/internal/outbound"
)

func postSendGrid(t *testing.T, h *SendGridWebhookHandler, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/hooks/sendgrid", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func TestSendGridWebhookAppliesEvents(t *testing.T) {
	store := &fakeApplier{}
	h := NewSendGridWebhookHandler(store, newMemProcessed(), nil)

	body := []byte(`[
		{"event":"processed","sg_message_id":"msg-1.filterdrecv-abc","sg_event_id":"ev-1"},
		{"event":"delivered","sg_message_id":"msg-1.filterdrecv-abc","sg_event_id":"ev-2"}
	]`)
	rec := postSendGrid(t, h, body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeWebhookResponse(t, rec).Updated)

	require.Len(t, store.calls, 2)
	assert.Equal(t, outbound.ChannelEmail, store.calls[0].channel)
	assert.Equal(t, "msg-1", store.calls[0].id, "routing suffix must be stripped")
	assert.True(t, store.calls[0].prefix, "email ids are matched on prefix")
	assert.Equal(t, outbound.StatusSent, store.calls[0].target)
	assert.Equal(t, outbound.StatusDelivered, store.calls[1].target)
}

func TestSendGridWebhookStatusMapping(t *testing.T) {
	cases := []struct {
		event  string
		target outbound.Status
		mapped bool
	}{
		{"processed", outbound.StatusSent, true},
		{"deferred", outbound.StatusSent, true},
		{"delivered", outbound.StatusDelivered, true},
		{"open", outbound.StatusDelivered, true},
		{"bounce", outbound.StatusFailed, true},
		{"dropped", outbound.StatusFailed, true},
		{"spamreport", outbound.StatusFailed, true},
		{"unsubscribe", "", false},
	}
	for _, tc := range cases {
		store := &fakeApplier{}
		h := NewSendGridWebhookHandler(store, newMemProcessed(), nil)
		body := []byte(`[{"event":"` + tc.event + `","sg_message_id":"msg-1","sg_event_id":"ev-x"}]`)
		rec := postSendGrid(t, h, body)
		require.Equal(t, http.StatusOK, rec.Code)
		if !tc.mapped {
			assert.Empty(t, store.calls, "event %q must be ignored", tc.event)
			continue
		}
		require.Len(t, store.calls, 1, "event %q", tc.event)
		assert.Equal(t, tc.target, store.calls[0].target)
	}
}

func TestSendGridWebhookReplayIsNoOp(t *testing.T) {
	store := &fakeApplier{}
	h := NewSendGridWebhookHandler(store, newMemProcessed(), nil)
	body := []byte(`[{"event":"delivered","sg_message_id":"msg-1","sg_event_id":"ev-1"}]`)

	first := postSendGrid(t, h, body)
	second := postSendGrid(t, h, body)

	assert.Equal(t, 1, decodeWebhookResponse(t, first).Updated)
	assert.Equal(t, 0, decodeWebhookResponse(t, second).Updated)
	assert.Len(t, store.calls, 1)
}

func TestSendGridWebhookRejectsNonArray(t *testing.T) {
	h := NewSendGridWebhookHandler(&fakeApplier{}, newMemProcessed(), nil)
	rec := postSendGrid(t, h, []byte(`{"event":"delivered"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendGridWebhookPartialBatch(t *testing.T) {
	store := &fakeApplier{applied: map[string]bool{"msg-known": true}}
	h := NewSendGridWebhookHandler(store, newMemProcessed(), nil)

	body := []byte(`[
		{"event":"delivered","sg_message_id":"msg-known","sg_event_id":"ev-1"},
		{"event":"delivered","sg_message_id":"msg-ghost","sg_event_id":"ev-2"},
		{"event":"delivered"},
		{"event":"unsubscribe","sg_message_id":"msg-known","sg_event_id":"ev-3"}
	]`)
	rec := postSendGrid(t, h, body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeWebhookResponse(t, rec).Updated)
}

func TestSendGridWebhookSMTPIDFallback(t *testing.T) {
	store := &fakeApplier{}
	h := NewSendGridWebhookHandler(store, newMemProcessed(), nil)

	rec := postSendGrid(t, h, []byte(`[{"event":"delivered","smtp-id":"<msg-2@mail>"}]`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.calls, 1)
	assert.Equal(t, "<msg-2@mail>", store.calls[0].id)
}
