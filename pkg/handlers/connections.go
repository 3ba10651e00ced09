package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/easydata-inc/easydata-engine/pkg/registry"
	"github.com/easydata-inc/easydata-engine/pkg/session"
)

// ConnectionsHandler exposes the live connection set and session counts
// for operational inspection.
type ConnectionsHandler struct {
	registry *registry.Registry
	sessions *session.Manager
	logger   *zap.Logger
}

// NewConnectionsHandler creates a new ConnectionsHandler.
func NewConnectionsHandler(reg *registry.Registry, sessions *session.Manager, logger *zap.Logger) *ConnectionsHandler {
	return &ConnectionsHandler{registry: reg, sessions: sessions, logger: logger}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *ConnectionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/connections", h.List)
}

// List handles GET /connections requests.
func (h *ConnectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		_ = ErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}

	response := map[string]any{
		"connections":     h.registry.ListActive(),
		"active_sessions": h.sessions.ActiveCount(),
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode connections response", zap.Error(err))
	}
}
