package handler

import (
	"context"
	"net/http"

	"github.com/capitalize-ai/helpdesk/pkg/logger"
)

// PresenceReader answers who is online.
type PresenceReader interface {
	OnlineAttendants(ctx context.Context) ([]string, error)
	DepartmentAttendants(ctx context.Context, departmentID string) ([]string, error)
}

// PresenceHandler exposes the presence store to consoles.
type PresenceHandler struct {
	presence PresenceReader
	logger   *logger.Logger
}

// NewPresenceHandler creates a presence handler.
func NewPresenceHandler(presence PresenceReader, log *logger.Logger) *PresenceHandler {
	return &PresenceHandler{presence: presence, logger: log}
}

// Online handles GET /api/v1/attendants/online[?department=id]
func (h *PresenceHandler) Online(w http.ResponseWriter, r *http.Request) {
	var (
		ids []string
		err error
	)
	if dept := r.URL.Query().Get("department"); dept != "" {
		ids, err = h.presence.DepartmentAttendants(r.Context(), dept)
	} else {
		ids, err = h.presence.OnlineAttendants(r.Context())
	}
	if err != nil {
		writeServiceError(w, h.logger, "online attendants", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}

	writeJSON(w, http.StatusOK, map[string][]string{"attendants": ids})
}
