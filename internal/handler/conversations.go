// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/helpdesk/internal/middleware"
	"github.com/capitalize-ai/helpdesk/internal/model"
	"github.com/capitalize-ai/helpdesk/internal/service"
	"github.com/capitalize-ai/helpdesk/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log,
	}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := model.ConversationFilter{
		Status:      model.Status(q.Get("status")),
		AttendantID: q.Get("attendant_id"),
		Page:        queryInt(r, "page"),
		Limit:       queryInt(r, "limit"),
	}

	resp, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		writeServiceError(w, h.logger, "list conversations", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Stats handles GET /api/v1/conversations/stats
func (h *ConversationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	stats, err := h.service.Stats(r.Context(), actor)
	if err != nil {
		writeServiceError(w, h.logger, "conversation stats", err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	conv, err := h.service.Get(r.Context(), actor, conversationID)
	if err != nil {
		writeServiceError(w, h.logger, "get conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Takeover handles POST /api/v1/conversations/:id/takeover
func (h *ConversationHandler) Takeover(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}

	conv, err := h.service.Takeover(r.Context(), conversationID, middleware.GetAttendantID(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, "takeover", err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Transfer handles POST /api/v1/conversations/:id/transfer
func (h *ConversationHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}

	var req model.TransferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.Validate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	conv, err := h.service.Transfer(r.Context(), actor, conversationID, req)
	if err != nil {
		writeServiceError(w, h.logger, "transfer", err)
		return
	}

	h.logger.Info("conversation transferred",
		zap.String("conversation_id", conversationID),
		zap.String("attendant_id", actor.ID),
	)
	writeJSON(w, http.StatusOK, conv)
}

// Close handles POST /api/v1/conversations/:id/close
func (h *ConversationHandler) Close(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	conv, err := h.service.Close(r.Context(), actor, conversationID)
	if err != nil {
		writeServiceError(w, h.logger, "close", err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Events handles GET /api/v1/conversations/:id/events
func (h *ConversationHandler) Events(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := conversationParam(w, r)
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	events, err := h.service.Events(r.Context(), actor, conversationID, queryInt(r, "limit"))
	if err != nil {
		writeServiceError(w, h.logger, "conversation events", err)
		return
	}
	if events == nil {
		events = []model.ConversationEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (h *ConversationHandler) actor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	return resolveActor(w, r, h.service, h.logger)
}

func resolveActor(w http.ResponseWriter, r *http.Request, svc *service.ConversationService, log *logger.Logger) (model.Actor, bool) {
	ctx := r.Context()
	actor, err := svc.Actor(ctx, middleware.GetAttendantID(ctx), middleware.GetRole(ctx))
	if err != nil {
		writeServiceError(w, log, "resolve actor", err)
		return model.Actor{}, false
	}
	return actor, true
}

func conversationParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return conversationID, true
}
