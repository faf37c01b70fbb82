package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/helpdesk/internal/bot"
	"github.com/capitalize-ai/helpdesk/internal/middleware"
	"github.com/capitalize-ai/helpdesk/internal/model"
	"github.com/capitalize-ai/helpdesk/internal/service"
	"github.com/capitalize-ai/helpdesk/internal/store"
	"github.com/capitalize-ai/helpdesk/internal/whatsapp"
	"github.com/capitalize-ai/helpdesk/pkg/logger"
)

const (
	testSecret    = "jwt-secret"
	testAppSecret = "app-secret"
	testVerify    = "verify-me"
)

type nopSender struct{}

func (nopSender) SendText(context.Context, string, string) (string, error) {
	return "wamid.out", nil
}

type nopNotifier struct{}

func (nopNotifier) EmitNewMessage(string, *model.Message) {}
func (nopNotifier) EmitConversationUpdate(*model.Conversation) {}
func (nopNotifier) EmitNewConversation(*model.Conversation) {}

type api struct {
	store     *store.Store
	router    http.Handler
	validator *middleware.TokenValidator
}

func newAPI(t *testing.T) *api {
	t.Helper()
	s, err := store.Open("sqlite", filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	sqlDB, err := s.DB().DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	log := logger.NewNop()
	convs := service.NewConversationService(s, nil, nopNotifier{}, log)
	msgs := service.NewMessageService(s, convs, bot.NewEngine(nil, log), bot.DefaultTree(), nopSender{}, nopNotifier{}, log)

	validator := middleware.NewTokenValidator(testSecret)
	webhook := NewWebhookHandler(msgs, testVerify, testAppSecret, log)

	r := chi.NewRouter()
	r.Get("/webhook/whatsapp", webhook.Verify)
	r.Post("/webhook/whatsapp", webhook.Receive)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(validator))
		r.Route("/conversations", ConversationRoutes(
			NewConversationHandler(convs, log),
			NewMessageHandler(msgs, convs, log),
		))
	})

	return &api{store: s, router: r, validator: validator}
}

func (a *api) attendant(t *testing.T, role model.Role, departments ...string) (string, string) {
	t.Helper()
	ctx := context.Background()
	att := &model.Attendant{Name: "Atendente", Email: uuid.NewString() + "@example.com", Role: role, Active: true}
	require.NoError(t, a.store.CreateAttendant(ctx, att))
	for _, d := range departments {
		require.NoError(t, a.store.AddMembership(ctx, att.ID, d))
	}
	token, err := a.validator.Sign(att.ID, role, time.Hour)
	require.NoError(t, err)
	return att.ID, token
}

func (a *api) conversation(t *testing.T, status model.Status, dept string) *model.Conversation {
	t.Helper()
	ctx := context.Background()
	cust, err := a.store.UpsertCustomer(ctx, "55"+uuid.NewString()[:10], "Cliente")
	require.NoError(t, err)
	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:           uuid.NewString(),
		CustomerID:   cust.ID,
		Status:       status,
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if dept != "" {
		conv.DepartmentID = &dept
	}
	require.NoError(t, a.store.CreateConversation(ctx, conv))
	return conv
}

func (a *api) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestRequiresAuthentication(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodGet, "/api/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListConversations(t *testing.T) {
	a := newAPI(t)
	_, token := a.attendant(t, model.RoleAttendant, "support")
	a.conversation(t, model.StatusWaiting, "support")
	a.conversation(t, model.StatusWaiting, "billing")

	rec := a.do(t, http.MethodGet, "/api/v1/conversations?status=waiting", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[model.ListConversationsResponse](t, rec)
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "support", *resp.Conversations[0].DepartmentID)
	assert.Equal(t, int64(1), resp.Pagination.Total)

	rec = a.do(t, http.MethodGet, "/api/v1/conversations?status=archived", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetConversationErrors(t *testing.T) {
	a := newAPI(t)
	_, token := a.attendant(t, model.RoleAttendant, "support")
	other := a.conversation(t, model.StatusWaiting, "billing")

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/api/v1/conversations/not-a-uuid", token, nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/api/v1/conversations/"+uuid.NewString(), token, nil).Code)
	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodGet, "/api/v1/conversations/"+other.ID, token, nil).Code)
}

func TestTakeoverEndpoint(t *testing.T) {
	a := newAPI(t)
	firstID, first := a.attendant(t, model.RoleAttendant, "support")
	_, second := a.attendant(t, model.RoleAttendant, "support")
	conv := a.conversation(t, model.StatusWaiting, "support")

	rec := a.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/takeover", first, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[model.Conversation](t, rec)
	assert.Equal(t, model.StatusOpen, got.Status)
	assert.True(t, got.OwnedBy(firstID))

	rec = a.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/takeover", second, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStatsEndpointRequiresSupervisor(t *testing.T) {
	a := newAPI(t)
	_, attendant := a.attendant(t, model.RoleAttendant, "support")
	_, supervisor := a.attendant(t, model.RoleSupervisor, "support")
	a.conversation(t, model.StatusWaiting, "support")
	a.conversation(t, model.StatusWaiting, "billing")

	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodGet, "/api/v1/conversations/stats", attendant, nil).Code)

	rec := a.do(t, http.MethodGet, "/api/v1/conversations/stats", supervisor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[model.Stats](t, rec)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.ByDepartment["support"][model.StatusWaiting])
}

func TestTransferEndpoint(t *testing.T) {
	a := newAPI(t)
	require.NoError(t, a.store.CreateDepartment(context.Background(), &model.Department{ID: "billing", Name: "Financeiro", Active: true}))
	_, owner := a.attendant(t, model.RoleAttendant, "support")
	_, stranger := a.attendant(t, model.RoleAttendant, "support")
	conv := a.conversation(t, model.StatusWaiting, "support")
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/takeover", owner, nil).Code)

	path := "/api/v1/conversations/" + conv.ID + "/transfer"
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, path, owner, map[string]string{}).Code)
	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodPost, path, stranger, model.TransferRequest{ToDepartmentID: "billing"}).Code)

	rec := a.do(t, http.MethodPost, path, owner, model.TransferRequest{ToDepartmentID: "billing", Reason: "assunto financeiro"})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[model.Conversation](t, rec)
	assert.Equal(t, model.StatusWaiting, got.Status)
	assert.Nil(t, got.AttendantID)
	assert.Equal(t, "billing", *got.DepartmentID)
}

func TestCloseEndpoint(t *testing.T) {
	a := newAPI(t)
	_, owner := a.attendant(t, model.RoleAttendant, "support")
	conv := a.conversation(t, model.StatusWaiting, "support")
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/takeover", owner, nil).Code)

	rec := a.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/close", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[model.Conversation](t, rec)
	assert.Equal(t, model.StatusClosed, got.Status)
	assert.NotNil(t, got.ClosedAt)

	botConv := a.conversation(t, model.StatusBot, "")
	assert.Equal(t, http.StatusConflict, a.do(t, http.MethodPost, "/api/v1/conversations/"+botConv.ID+"/close", owner, nil).Code)
}

func TestSendAndListMessages(t *testing.T) {
	a := newAPI(t)
	_, owner := a.attendant(t, model.RoleAttendant, "support")
	_, stranger := a.attendant(t, model.RoleAttendant, "support")
	conv := a.conversation(t, model.StatusWaiting, "support")
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/takeover", owner, nil).Code)

	path := "/api/v1/conversations/" + conv.ID + "/messages"
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, path, owner, model.SendMessageRequest{}).Code)
	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodPost, path, stranger, model.SendMessageRequest{Content: "oi"}).Code)

	rec := a.do(t, http.MethodPost, path, owner, model.SendMessageRequest{Content: "Ola, como posso ajudar?"})
	require.Equal(t, http.StatusCreated, rec.Code)
	sent := decode[model.Message](t, rec)
	assert.Equal(t, model.SenderAttendant, sent.SenderKind)
	require.NotNil(t, sent.ExternalID)
	assert.Equal(t, "wamid.out", *sent.ExternalID)

	rec = a.do(t, http.MethodGet, path, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[model.ListMessagesResponse](t, rec)
	require.Len(t, list.Messages, 1)
	assert.Equal(t, "Ola, como posso ajudar?", list.Messages[0].Content)
}

func TestEventsEndpointWithoutLog(t *testing.T) {
	a := newAPI(t)
	_, token := a.attendant(t, model.RoleAdmin)
	conv := a.conversation(t, model.StatusWaiting, "")

	rec := a.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/events", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"events":[]}`, rec.Body.String())
}

func TestWebhookVerify(t *testing.T) {
	a := newAPI(t)

	rec := a.do(t, http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token="+testVerify+"&hub.challenge=4242", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4242", rec.Body.String())

	rec = a.do(t, http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=4242", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

const webhookBody = `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{
"contacts":[{"wa_id":"5511988887777","profile":{"name":"Joao"}}],
"messages":[{"id":"wamid.in.1","from":"5511988887777","timestamp":"1700000000","type":"text","text":{"body":"oi"}}]}}]}]}`

func postWebhook(a *api, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(whatsapp.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookReceive(t *testing.T) {
	a := newAPI(t)

	rec := postWebhook(a, webhookBody, whatsapp.Sign(testAppSecret, []byte(webhookBody)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"received","processed":1}`, rec.Body.String())

	msg, err := a.store.FindMessageByExternalID(context.Background(), "wamid.in.1")
	require.NoError(t, err)
	assert.Equal(t, "oi", msg.Content)

	conv, err := a.store.FindConversation(context.Background(), msg.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusBot, conv.Status)
	require.NotNil(t, conv.MenuLevel)
	assert.Equal(t, bot.DefaultRoot, *conv.MenuLevel)

	// Redelivery is answered without a second message.
	rec = postWebhook(a, webhookBody, whatsapp.Sign(testAppSecret, []byte(webhookBody)))
	require.Equal(t, http.StatusOK, rec.Code)
	history, total, err := a.store.ListMessages(context.Background(), conv.ID, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(len(history)), total)
	customerMessages := 0
	for _, m := range history {
		if m.SenderKind == model.SenderCustomer {
			customerMessages++
		}
	}
	assert.Equal(t, 1, customerMessages)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	a := newAPI(t)

	rec := postWebhook(a, webhookBody, whatsapp.Sign("other", []byte(webhookBody)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	_, err := a.store.FindMessageByExternalID(context.Background(), "wamid.in.1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWebhookIgnoresMalformedPayload(t *testing.T) {
	a := newAPI(t)
	body := "{not json"
	rec := postWebhook(a, body, whatsapp.Sign(testAppSecret, []byte(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ignored"}`, rec.Body.String())
}

func TestReady(t *testing.T) {
	healthy := NewHealthHandler(Check{Name: "database", Ping: func(context.Context) error { return nil }})
	rec := httptest.NewRecorder()
	healthy.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	failing := NewHealthHandler(
		Check{Name: "database", Ping: func(context.Context) error { return nil }},
		Check{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }},
	)
	rec = httptest.NewRecorder()
	failing.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"not ready","reason":"redis unavailable"}`, rec.Body.String())
}

type fakePresence struct {
	online []string
	byDept map[string][]string
}

func (f fakePresence) OnlineAttendants(context.Context) ([]string, error) {
	return f.online, nil
}

func (f fakePresence) DepartmentAttendants(_ context.Context, departmentID string) ([]string, error) {
	return f.byDept[departmentID], nil
}

func TestPresenceOnline(t *testing.T) {
	h := NewPresenceHandler(fakePresence{
		online: []string{"u1", "u2"},
		byDept: map[string][]string{"support": {"u1"}},
	}, logger.NewNop())

	rec := httptest.NewRecorder()
	h.Online(rec, httptest.NewRequest(http.MethodGet, "/api/v1/attendants/online", nil))
	assert.JSONEq(t, `{"attendants":["u1","u2"]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Online(rec, httptest.NewRequest(http.MethodGet, "/api/v1/attendants/online?department=support", nil))
	assert.JSONEq(t, `{"attendants":["u1"]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Online(rec, httptest.NewRequest(http.MethodGet, "/api/v1/attendants/online?department=none", nil))
	assert.JSONEq(t, `{"attendants":[]}`, rec.Body.String())
}
