package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/easydata-inc/easydata-engine/pkg/apperrors"
	"github.com/easydata-inc/easydata-engine/pkg/registry"
	"github.com/easydata-inc/easydata-engine/pkg/schemacache"
	"github.com/easydata-inc/easydata-engine/pkg/session"
	"github.com/easydata-inc/easydata-engine/pkg/vault"
)

// DatasourcesHandler drives the connect/disconnect lifecycle: credentials
// come from the vault, the connection lands in the registry, and the caller
// gets back a session token instead of anything secret.
type DatasourcesHandler struct {
	registry *registry.Registry
	sessions *session.Manager
	vault    vault.CredentialFetcher
	schemas  *schemacache.Cache
	logger   *zap.Logger
}

// NewDatasourcesHandler creates a new DatasourcesHandler.
func NewDatasourcesHandler(reg *registry.Registry, sessions *session.Manager,
	fetcher vault.CredentialFetcher, schemas *schemacache.Cache, logger *zap.Logger) *DatasourcesHandler {
	return &DatasourcesHandler{
		registry: reg,
		sessions: sessions,
		vault:    fetcher,
		schemas:  schemas,
		logger:   logger,
	}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *DatasourcesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/datasources/connect", h.Connect)
	mux.HandleFunc("/datasources/disconnect", h.Disconnect)
}

// ConnectRequest asks for a connection to one of the user's databases.
type ConnectRequest struct {
	UserID string `json:"user_id"`
	DBType string `json:"db_type"`
}

// ConnectResponse carries the session token standing in for the connection.
type ConnectResponse struct {
	SessionToken string `json:"session_token"`
	DBType       string `json:"db_type"`
	ExpiresAt    string `json:"expires_at"`
}

// Connect handles POST /datasources/connect requests.
func (h *DatasourcesHandler) Connect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = ErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}

	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.DBType == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "user_id and db_type are required")
		return
	}

	creds, err := h.vault.FetchCredentials(r.Context(), req.UserID, req.DBType)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadGateway, "vault_unavailable", "credential lookup failed")
		return
	}
	if creds == nil {
		_ = ErrorResponse(w, http.StatusNotFound, "no_credentials", "no credentials stored for this database")
		return
	}

	if _, err := h.registry.Connect(r.Context(), req.UserID, req.DBType, creds); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrAlreadyConnected):
			_ = ErrorResponse(w, http.StatusConflict, "already_connected", "a connection for this database already exists")
		case errors.Is(err, apperrors.ErrCredentialInvalid):
			_ = ErrorResponse(w, http.StatusUnauthorized, "credential_invalid", "the stored credentials were rejected")
		default:
			_ = ErrorResponse(w, http.StatusBadGateway, "engine_unreachable", "could not reach the database")
		}
		return
	}

	sess, err := h.sessions.CreateSession(req.UserID, req.DBType)
	if err != nil {
		// Undo the connect so we never leave a live handle without a session.
		_ = h.registry.Disconnect(r.Context(), req.UserID, req.DBType)
		_ = ErrorResponse(w, http.StatusInternalServerError, "session_failed", "could not create a session")
		return
	}

	// Warm the schema cache so the first query does not pay introspection.
	// Detached from the request: priming is best-effort and must not hold
	// up the connect response.
	go h.schemas.Prime(context.Background(), req.UserID, req.DBType)

	_ = WriteJSON(w, http.StatusOK, ConnectResponse{
		SessionToken: sess.Token,
		DBType:       sess.DBType,
		ExpiresAt:    sess.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

// DisconnectRequest closes a session and its backing connection.
type DisconnectRequest struct {
	SessionToken string `json:"session_token"`
}

// Disconnect handles POST /datasources/disconnect requests. Unknown or
// already-ended tokens are a successful no-op.
func (h *DatasourcesHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = ErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}

	var req DisconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionToken == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "session_token is required")
		return
	}

	h.sessions.DestroySession(r.Context(), req.SessionToken)
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}
