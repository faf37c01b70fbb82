package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/helpdesk/pkg/logger"
)

const samplePayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "contacts": [{"wa_id": "5511999990000", "profile": {"name": "Maria"}}],
        "messages": [
          {"id": "wamid.1", "from": "5511999990000", "timestamp": "1700000000", "type": "text", "text": {"body": "1"}},
          {"id": "wamid.2", "from": "5511999990000", "timestamp": "1700000005", "type": "image", "image": {"id": "media-9", "mime_type": "image/jpeg", "caption": "comprovante"}},
          {"id": "wamid.3", "from": "5511999990000", "timestamp": "1700000009", "type": "interactive", "interactive": {"button_reply": {"id": "2", "title": "Financeiro"}}},
          {"id": "wamid.4", "from": "5511999990000", "timestamp": "1700000010", "type": "sticker"}
        ]
      }
    }]
  }]
}`

func TestParseWebhook(t *testing.T) {
	msgs, err := ParseWebhook([]byte(samplePayload))
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, "5511999990000", msgs[0].Phone)
	assert.Equal(t, "Maria", msgs[0].Name)
	assert.Equal(t, "1", msgs[0].Text)
	assert.Equal(t, "wamid.1", msgs[0].ExternalID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), msgs[0].ReceivedAt)

	assert.Equal(t, "comprovante", msgs[1].Text)
	assert.Equal(t, "whatsapp-media:media-9", msgs[1].MediaURL)

	assert.Equal(t, "2", msgs[2].Text)
}

func TestParseWebhookStatusesOnly(t *testing.T) {
	msgs, err := ParseWebhook([]byte(`{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{"statuses":[{"id":"wamid.x","status":"read"}]}}]}]}`))
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = ParseWebhook([]byte("{"))
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	challenge, err := Verify("subscribe", "secret", "12345", "secret")
	require.NoError(t, err)
	assert.Equal(t, "12345", challenge)

	_, err = Verify("subscribe", "wrong", "12345", "secret")
	assert.ErrorIs(t, err, ErrVerification)

	_, err = Verify("unsubscribe", "secret", "12345", "secret")
	assert.ErrorIs(t, err, ErrVerification)

	_, err = Verify("subscribe", "", "12345", "")
	assert.ErrorIs(t, err, ErrVerification)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(samplePayload)

	assert.NoError(t, VerifySignature("app-secret", body, Sign("app-secret", body)))
	assert.ErrorIs(t, VerifySignature("app-secret", body, Sign("other", body)), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("app-secret", body, "sha1=abc"), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("app-secret", body, "sha256=zz"), ErrBadSignature)
	assert.NoError(t, VerifySignature("", body, ""))
}

func TestSendText(t *testing.T) {
	var got sendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/PHONE_ID/messages", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.out.1"}]}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIURL: server.URL + "/", Token: "token", PhoneNumberID: "PHONE_ID"}, logger.NewNop())

	id, err := client.SendText(context.Background(), "5511999990000", "Ola")
	require.NoError(t, err)
	assert.Equal(t, "wamid.out.1", id)
	assert.Equal(t, "whatsapp", got.MessagingProduct)
	assert.Equal(t, "5511999990000", got.To)
	assert.Equal(t, "Ola", got.Text.Body)
}

func TestSendTextRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.out.2"}]}`))
	}))
	defer server.Close()

	client := NewClient(Config{
		APIURL:        server.URL,
		Token:         "token",
		PhoneNumberID: "PHONE_ID",
		RetryInterval: time.Millisecond,
	}, logger.NewNop())

	id, err := client.SendText(context.Background(), "5511", "Ola")
	require.NoError(t, err)
	assert.Equal(t, "wamid.out.2", id)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSendTextDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`))
	}))
	defer server.Close()

	client := NewClient(Config{
		APIURL:        server.URL,
		Token:         "token",
		PhoneNumberID: "PHONE_ID",
		RetryInterval: time.Millisecond,
	}, logger.NewNop())

	_, err := client.SendText(context.Background(), "5511", "Ola")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 100, apiErr.Code)
	assert.Equal(t, "Invalid parameter", apiErr.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendTextNotConfigured(t *testing.T) {
	client := NewClient(Config{}, logger.NewNop())
	assert.False(t, client.Configured())

	_, err := client.SendText(context.Background(), "5511", "Ola")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
