package handler

import (
	"context"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/helpdesk/internal/model"
	"github.com/capitalize-ai/helpdesk/internal/whatsapp"
	"github.com/capitalize-ai/helpdesk/pkg/logger"
)

// InboundHandler processes one customer message.
type InboundHandler interface {
	HandleInbound(ctx context.Context, in model.InboundMessage) (*model.Message, error)
}

// WebhookHandler receives WhatsApp Cloud API callbacks.
type WebhookHandler struct {
	inbound     InboundHandler
	verifyToken string
	appSecret   string
	logger      *logger.Logger
}

// NewWebhookHandler creates a webhook handler. An empty appSecret disables
// signature checks.
func NewWebhookHandler(inbound InboundHandler, verifyToken, appSecret string, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		inbound:     inbound,
		verifyToken: verifyToken,
		appSecret:   appSecret,
		logger:      log,
	}
}

// Verify handles GET /webhook/whatsapp
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, err := whatsapp.Verify(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), h.verifyToken)
	if err != nil {
		writeError(w, http.StatusForbidden, "verification failed")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// Receive handles POST /webhook/whatsapp
//
// Processing failures still answer 200 so the provider does not redeliver
// the whole batch; redeliveries are deduplicated by message id anyway.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := whatsapp.VerifySignature(h.appSecret, body, r.Header.Get(whatsapp.SignatureHeader)); err != nil {
		h.logger.Warn("rejected webhook with bad signature", zap.String("remote_addr", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	msgs, err := whatsapp.ParseWebhook(body)
	if err != nil {
		h.logger.Warn("ignoring malformed webhook payload", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	processed := 0
	for _, in := range msgs {
		if _, err := h.inbound.HandleInbound(r.Context(), in); err != nil {
			h.logger.Error("failed to process inbound message",
				zap.String("external_id", in.ExternalID),
				zap.Error(err),
			)
			continue
		}
		processed++
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "received",
		"processed": processed,
	})
}
