package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docshare/portal-messaging/internal/outbound"
	"github.com/docshare/portal-messaging/internal/templates"
	"github.com/docshare/portal-messaging/internal/tenancy"
)

type fakeRenderer struct {
	body string
	err  error
	last struct {
		key, language, channel string
		tctx                   map[string]string
	}
}

func (f *fakeRenderer) Render(_ context.Context, key, language, channel string, tctx map[string]string) (string, error) {
	f.last.key, f.last.language, f.last.channel, f.last.tctx = key, language, channel, tctx
	return f.body, f.err
}

type fakeCreator struct {
	in  outbound.CreateInput
	msg *outbound.Message
	err error
}

func (f *fakeCreator) Create(_ context.Context, in outbound.CreateInput) (*outbound.Message, error) {
	f.in = in
	return f.msg, f.err
}

type fakeLister struct {
	filter outbound.ListFilter
	msgs   []*outbound.Message
	err    error
}

func (f *fakeLister) List(_ context.Context, filter outbound.ListFilter) ([]*outbound.Message, error) {
	f.filter = filter
	return f.msgs, f.err
}

func TestAdminSendRendersAndCreates(t *testing.T) {
	renderer := &fakeRenderer{body: "Dr. Rao shared a video: https://x/s/abc123"}
	creator := &fakeCreator{msg: &outbound.Message{ID: uuid.New(), Status: outbound.StatusQueued}}
	h := NewAdminMessagesHandler(renderer, creator, &fakeLister{}, nil)

	clinicID := uuid.New()
	body := `{
		"clinic_id":"` + clinicID.String() + `",
		"channel":"whatsapp",
		"recipient":"9876543210",
		"template_key":"share_video",
		"context":{"doctor_name":"Dr. Rao"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/admin/messages:send", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Send(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp sendMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, creator.msg.ID.String(), resp.ID)
	assert.Equal(t, "queued", resp.Status)

	assert.Equal(t, "share_video", renderer.last.key)
	assert.Equal(t, "en", renderer.last.language, "language defaults to en")
	assert.Equal(t, "whatsapp", renderer.last.channel)
	assert.Equal(t, clinicID, creator.in.ClinicID)
	assert.Equal(t, renderer.body, creator.in.BodyRendered)
}

func TestAdminSendDuplicateReportsSent(t *testing.T) {
	renderer := &fakeRenderer{body: "hello"}
	creator := &fakeCreator{msg: &outbound.Message{ID: uuid.New(), Status: outbound.StatusSent}}
	h := NewAdminMessagesHandler(renderer, creator, &fakeLister{}, nil)

	body := `{"clinic_id":"` + uuid.NewString() + `","channel":"whatsapp","recipient":"9876543210","template_key":"share_video"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/messages:send", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Send(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp sendMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sent", resp.Status)
}

func TestAdminSendUnknownTemplate(t *testing.T) {
	renderer := &fakeRenderer{err: templates.ErrTemplateNotFound}
	h := NewAdminMessagesHandler(renderer, &fakeCreator{}, &fakeLister{}, nil)

	body := `{"clinic_id":"` + uuid.NewString() + `","channel":"whatsapp","recipient":"9876543210","template_key":"missing"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/messages:send", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Send(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAdminSendBadRequests(t *testing.T) {
	h := NewAdminMessagesHandler(&fakeRenderer{body: "x"}, &fakeCreator{}, &fakeLister{}, nil)
	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"bad clinic id", `{"clinic_id":"nope","channel":"whatsapp","template_key":"k"}`},
		{"bad share_ref", `{"clinic_id":"` + uuid.NewString() + `","share_ref":"nope","channel":"whatsapp","template_key":"k"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/messages:send", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.Send(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAdminListScopedToClinic(t *testing.T) {
	clinicID := uuid.New()
	now := time.Now().UTC()
	lister := &fakeLister{msgs: []*outbound.Message{{
		ID:          uuid.New(),
		Channel:     outbound.ChannelWhatsApp,
		Recipient:   "9876543210",
		TemplateKey: "share_video",
		Language:    "en",
		Status:      outbound.StatusSent,
		CreatedAt:   now,
	}}}
	h := NewAdminMessagesHandler(&fakeRenderer{}, &fakeCreator{}, lister, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/messages?channel=whatsapp&status=sent&limit=10", nil)
	req = req.WithContext(tenancy.WithClinicID(req.Context(), clinicID.String()))
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, clinicID, lister.filter.ClinicID)
	assert.Equal(t, outbound.ChannelWhatsApp, lister.filter.Channel)
	assert.Equal(t, outbound.StatusSent, lister.filter.Status)
	assert.Equal(t, 10, lister.filter.Limit)

	var resp struct {
		Messages []messageView `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "share_video", resp.Messages[0].TemplateKey)
}

func TestAdminListRequiresClinicScope(t *testing.T) {
	h := NewAdminMessagesHandler(&fakeRenderer{}, &fakeCreator{}, &fakeLister{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/admin/messages", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminListInvalidSince(t *testing.T) {
	h := NewAdminMessagesHandler(&fakeRenderer{}, &fakeCreator{}, &fakeLister{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/admin/messages?since=yesterday", nil)
	req = req.WithContext(tenancy.WithClinicID(req.Context(), uuid.NewString()))
	rec := httptest.NewRecorder()
	h.List(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
