package handler

import (
	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/helpdesk/internal/middleware"
	"github.com/capitalize-ai/helpdesk/internal/model"
)

// ConversationRoutes mounts conversation and message endpoints. The stats
// dashboard is limited to admins and supervisors.
func ConversationRoutes(conv *ConversationHandler, msgs *MessageHandler) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", conv.List)
		r.With(middleware.RequireRole(model.RoleAdmin, model.RoleSupervisor)).Get("/stats", conv.Stats)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", conv.Get)
			r.Post("/takeover", conv.Takeover)
			r.Post("/transfer", conv.Transfer)
			r.Post("/close", conv.Close)
			r.Get("/events", conv.Events)

			r.Get("/messages", msgs.List)
			r.Post("/messages", msgs.Send)
			r.Post("/messages/read", msgs.MarkRead)
		})
	}
}
