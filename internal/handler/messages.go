package handler

import (
	"net/http"

	"github.com/capitalize-ai/helpdesk/internal/middleware"
	"github.com/capitalize-ai/helpdesk/internal/model"
	"github.com/capitalize-ai/helpdesk/internal/service"
	"github.com/capitalize-ai/helpdesk/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messageService      *service.MessageService
	conversationService *service.ConversationService
	logger              *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(
	msgSvc *service.MessageService,
	convSvc *service.ConversationService,
	log *logger.Logger,
) *MessageHandler {
	return &MessageHandler{
		messageService:      msgSvc,
		conversationService: convSvc,
		logger:              log,
	}
}

// List handles GET /api/v1/conversations/:id/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}
	actor, ok := resolveActor(w, r, h.conversationService, h.logger)
	if !ok {
		return
	}

	resp, err := h.messageService.ListMessages(r.Context(), actor, conversationID, queryInt(r, "page"), queryInt(r, "limit"))
	if err != nil {
		writeServiceError(w, h.logger, "list messages", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Send handles POST /api/v1/conversations/:id/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}

	var req model.SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.Validate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor, ok := resolveActor(w, r, h.conversationService, h.logger)
	if !ok {
		return
	}

	msg, err := h.messageService.SendAgentMessage(r.Context(), actor, conversationID, req)
	if err != nil {
		writeServiceError(w, h.logger, "send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// MarkRead handles POST /api/v1/conversations/:id/messages/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}
	actor, ok := resolveActor(w, r, h.conversationService, h.logger)
	if !ok {
		return
	}

	updated, err := h.messageService.MarkRead(r.Context(), actor, conversationID)
	if err != nil {
		writeServiceError(w, h.logger, "mark read", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}
