package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/easydata-inc/easydata-engine/pkg/apperrors"
	"github.com/easydata-inc/easydata-engine/pkg/engine"
	"github.com/easydata-inc/easydata-engine/pkg/fanout"
	"github.com/easydata-inc/easydata-engine/pkg/planner"
	"github.com/easydata-inc/easydata-engine/pkg/registry"
	"github.com/easydata-inc/easydata-engine/pkg/router"
	"github.com/easydata-inc/easydata-engine/pkg/schemacache"
	"github.com/easydata-inc/easydata-engine/pkg/session"
)

// QueryHandler is the natural-language query endpoint. It checks the
// session, lets the router pick the target database (or detects an
// explicit switch), and hands multi-database requests to the fan-out
// coordinator.
type QueryHandler struct {
	registry    *registry.Registry
	sessions    *session.Manager
	router      *router.Router
	planner     planner.Planner
	schemas     *schemacache.Cache
	coordinator *fanout.Coordinator
	logger      *zap.Logger
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(reg *registry.Registry, sessions *session.Manager, rt *router.Router,
	p planner.Planner, schemas *schemacache.Cache, coordinator *fanout.Coordinator, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{
		registry:    reg,
		sessions:    sessions,
		router:      rt,
		planner:     p,
		schemas:     schemas,
		coordinator: coordinator,
		logger:      logger,
	}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/query", h.Query)
}

// QueryRequest carries one natural-language task. DBIDs is optional; more
// than one id triggers fan-out execution.
type QueryRequest struct {
	UserID       string      `json:"user_id"`
	SessionToken string      `json:"session_token"`
	Task         string      `json:"task"`
	DBIDs        []uuid.UUID `json:"db_ids,omitempty"`
}

// QueryResponse carries either rows, fan-out results, a switch
// acknowledgment, or a prompt asking the user to pick a database.
type QueryResponse struct {
	Database string                  `json:"database,omitempty"`
	Rows     *engine.Rows            `json:"rows,omitempty"`
	Results  []fanout.DatabaseResult `json:"results,omitempty"`
	Message  string                  `json:"message,omitempty"`
	Prompt   string                  `json:"prompt,omitempty"`
}

// Query handles POST /query requests.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = ErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Task == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "user_id and task are required")
		return
	}

	sess := h.sessions.GetSession(req.UserID, req.SessionToken)
	if sess == nil {
		_ = ErrorResponse(w, http.StatusUnauthorized, "session_invalid", "no active session")
		return
	}

	// Explicit switch commands short-circuit query execution.
	switched, err := h.router.DetectContextSwitch(r.Context(), req.UserID, req.Task)
	if err == nil && switched.Switched {
		_ = WriteJSON(w, http.StatusOK, QueryResponse{Message: switched.Message})
		return
	}

	if len(req.DBIDs) > 1 {
		h.fanout(w, r, &req)
		return
	}

	h.single(w, r, &req, sess)
}

// single routes and executes a query against one database.
func (h *QueryHandler) single(w http.ResponseWriter, r *http.Request, req *QueryRequest, sess *session.Session) {
	db, err := h.router.SelectDatabaseForQuery(r.Context(), req.UserID, req.Task)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadGateway, "routing_failed", "could not resolve a target database")
		return
	}
	if db == nil {
		_ = WriteJSON(w, http.StatusOK, QueryResponse{
			Prompt: "Which database should this query run against?",
		})
		return
	}

	snapshot, err := h.schemas.GetSchema(r.Context(), req.UserID, db.DBType, false)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadGateway, "schema_unavailable", "could not load the database schema")
		return
	}

	conn, err := h.registry.Get(req.UserID, db.DBType)
	if err != nil {
		_ = ErrorResponse(w, http.StatusConflict, "not_connected", "no live connection for the target database")
		return
	}

	var request *engine.Request
	if conn.Family() == engine.FamilyDocument {
		request = &engine.Request{Collection: firstMatchingCollection(req.Task, snapshot)}
	} else {
		query, err := h.planner.Plan(r.Context(), req.Task, snapshot)
		if err != nil {
			_ = ErrorResponse(w, http.StatusUnprocessableEntity, "planning_failed", "could not plan a query for this task")
			return
		}
		request = &engine.Request{SQL: query}
	}

	rows, err := h.registry.ExecuteOnEngine(r.Context(), conn, request)
	if err != nil {
		if errors.Is(err, apperrors.ErrOperationNotPermitted) {
			_ = ErrorResponse(w, http.StatusForbidden, "not_permitted", "only read-only queries are allowed")
			return
		}
		_ = ErrorResponse(w, http.StatusBadGateway, "execution_failed", "query execution failed")
		return
	}

	h.router.RecordQuery(r.Context(), req.UserID, db.ID)
	_ = WriteJSON(w, http.StatusOK, QueryResponse{Database: db.Name, Rows: rows})
}

// fanout executes the task across several databases; partial failure comes
// back as data alongside the successful results.
func (h *QueryHandler) fanout(w http.ResponseWriter, r *http.Request, req *QueryRequest) {
	results, err := h.coordinator.HandleMultiDatabaseQuery(r.Context(), req.UserID, req.Task, req.DBIDs)
	if err != nil {
		if errors.Is(err, apperrors.ErrDatabaseNotOwned) {
			_ = ErrorResponse(w, http.StatusForbidden, "not_owned", "none of the requested databases belong to this user")
			return
		}
		_ = ErrorResponse(w, http.StatusBadGateway, "fanout_failed", "multi-database execution failed")
		return
	}

	resp := QueryResponse{Results: results}
	if succeeded, firstErr := fanout.PartialFailure(results); firstErr != nil {
		resp.Message = firstErr.Error()
		h.logger.Warn("fan-out completed with partial failure",
			zap.String("userID", req.UserID),
			zap.Int("succeeded", succeeded),
			zap.Int("total", len(results)))
	}
	_ = WriteJSON(w, http.StatusOK, resp)
}

// firstMatchingCollection mirrors the fan-out collection pick for the
// single-database document path.
func firstMatchingCollection(task string, snapshot *schemacache.Snapshot) string {
	if snapshot == nil || len(snapshot.Tables) == 0 {
		return ""
	}
	lowered := strings.ToLower(task)
	for _, table := range snapshot.Tables {
		if table.Name != "" && strings.Contains(lowered, strings.ToLower(table.Name)) {
			return table.Name
		}
	}
	return snapshot.Tables[0].Name
}
