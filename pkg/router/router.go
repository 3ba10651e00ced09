// Package router resolves which database a free-text task targets. It
// tracks each user's current database, detects explicit switch commands,
// and scores candidates by textual match plus recent-usage history.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/easydata-inc/easydata-engine/pkg/apperrors"
	"github.com/easydata-inc/easydata-engine/pkg/config"
	"github.com/easydata-inc/easydata-engine/pkg/ownership"
)

// SwitchResult is the outcome of explicit-switch detection. A non-switch
// is a normal result, not an error.
type SwitchResult struct {
	Switched bool      `json:"switched"`
	DBID     uuid.UUID `json:"db_id,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Router is the context router. All methods are pure with respect to their
// inputs except the persisted side effects of DetectContextSwitch,
// SetCurrentDatabaseContext, and RecordQuery.
type Router struct {
	store    ContextStore
	owned    ownership.Provider
	detector SwitchDetector
	cfg      config.RouterConfig
	logger   *zap.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a router with the given collaborators.
func New(store ContextStore, owned ownership.Provider, detector SwitchDetector, cfg config.RouterConfig, logger *zap.Logger) *Router {
	return &Router{
		store:    store,
		owned:    owned,
		detector: detector,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// DetectContextSwitch pattern-matches explicit switch phrasing against the
// user's owned databases. On a match the new current database is persisted
// atomically (pointer and audit entry in one store write); no match is not
// an error.
func (r *Router) DetectContextSwitch(ctx context.Context, userID, taskText string) (*SwitchResult, error) {
	owned, err := r.owned.ListDatabases(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list owned databases: %w", err)
	}

	db, matched := r.detector.Detect(taskText, owned)
	if !matched {
		return &SwitchResult{Switched: false}, nil
	}

	if err := r.persistSwitch(ctx, userID, db.ID); err != nil {
		// Either the switch registers fully or not at all.
		return nil, fmt.Errorf("persist context switch: %w", err)
	}

	r.logger.Info("context switched",
		zap.String("userID", userID),
		zap.String("database", db.Name),
	)

	return &SwitchResult{
		Switched: true,
		DBID:     db.ID,
		Message:  fmt.Sprintf("Now using %s (%s).", db.Name, db.DBType),
	}, nil
}

// SelectDatabaseForQuery picks the database a task most likely targets.
// Single-database users short-circuit; otherwise candidates are scored by
// textual match plus a capped history boost, falling back to the persisted
// current-database pointer. Returns (nil, nil) when nothing resolves —
// the caller must then prompt the user.
func (r *Router) SelectDatabaseForQuery(ctx context.Context, userID, taskText string) (*ownership.Database, error) {
	owned, err := r.owned.ListDatabases(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list owned databases: %w", err)
	}
	if len(owned) == 0 {
		return nil, nil
	}
	if len(owned) == 1 {
		return &owned[0], nil
	}

	dbCtx, err := r.store.Get(ctx, userID)
	if err != nil {
		// Scoring still works without history; log and continue.
		r.logger.Warn("context read failed, scoring without history",
			zap.String("userID", userID),
			zap.Error(err),
		)
		dbCtx = nil
	}
	if dbCtx == nil {
		dbCtx = &DatabaseContext{}
	}

	if best := r.scoreCandidates(taskText, owned, dbCtx); best != nil {
		return best, nil
	}

	// Nothing scored above zero: fall back to the current-database pointer
	// if it still references an owned database.
	if dbCtx.CurrentDBID != nil {
		for i := range owned {
			if owned[i].ID == *dbCtx.CurrentDBID {
				return &owned[i], nil
			}
		}
	}

	return nil, nil
}

// Resolve is SelectDatabaseForQuery with ambiguity surfaced as an error,
// for callers that cannot prompt.
func (r *Router) Resolve(ctx context.Context, userID, taskText string) (*ownership.Database, error) {
	db, err := r.SelectDatabaseForQuery(ctx, userID, taskText)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, fmt.Errorf("%w: specify which database to use", apperrors.ErrAmbiguousContext)
	}
	return db, nil
}

// scoreCandidates returns the highest-scoring database, or nil when no
// candidate scores above zero. Deterministic: ties break on most recent
// use, then on database ID ordering.
func (r *Router) scoreCandidates(taskText string, owned []ownership.Database, dbCtx *DatabaseContext) *ownership.Database {
	type scored struct {
		db       *ownership.Database
		score    float64
		lastUsed time.Time
	}

	task := strings.ToLower(taskText)
	candidates := make([]scored, 0, len(owned))

	for i := range owned {
		db := &owned[i]
		score := r.textualScore(task, db)

		if score > 0 {
			// History only boosts databases with some textual signal, and
			// its contribution is capped so recency can never outrank an
			// explicit mention of another database.
			boost := float64(dbCtx.useCount(db.ID)) * r.cfg.HistoryBoostPerUse
			if boost > r.cfg.HistoryBoostCap {
				boost = r.cfg.HistoryBoostCap
			}
			score += boost
		}

		candidates = append(candidates, scored{
			db:       db,
			score:    score,
			lastUsed: dbCtx.lastUsed(db.ID),
		})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		if !candidates[a].lastUsed.Equal(candidates[b].lastUsed) {
			return candidates[a].lastUsed.After(candidates[b].lastUsed)
		}
		return candidates[a].db.ID.String() < candidates[b].db.ID.String()
	})

	if candidates[0].score <= 0 {
		return nil
	}
	return candidates[0].db
}

// textualScore weighs mentions of the database inside the task text.
// Exact database-name hits dominate; engine-type mentions are weakest.
func (r *Router) textualScore(task string, db *ownership.Database) float64 {
	score := 0.0

	if name := strings.ToLower(db.Name); name != "" && strings.Contains(task, name) {
		if containsWord(task, name) {
			score += r.cfg.ExactNameWeight
		} else {
			score += r.cfg.NameWeight
		}
	}
	if conn := strings.ToLower(db.ConnectionName); conn != "" && conn != strings.ToLower(db.Name) &&
		strings.Contains(task, conn) {
		score += r.cfg.ConnectionNameWeight
	}
	if dbType := strings.ToLower(db.DBType); dbType != "" && containsWord(task, dbType) {
		score += r.cfg.EngineTypeWeight
	}

	return score
}

// containsWord reports whether needle occurs in task delimited by
// non-alphanumeric characters.
func containsWord(task, needle string) bool {
	idx := 0
	for {
		pos := strings.Index(task[idx:], needle)
		if pos == -1 {
			return false
		}
		pos += idx
		beforeOK := pos == 0 || !isAlnum(task[pos-1])
		afterIdx := pos + len(needle)
		afterOK := afterIdx >= len(task) || !isAlnum(task[afterIdx])
		if beforeOK && afterOK {
			return true
		}
		idx = pos + len(needle)
	}
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// GetCurrentDatabaseContext returns the user's current database pointer,
// or nil when unset or no longer owned.
func (r *Router) GetCurrentDatabaseContext(ctx context.Context, userID string) (*uuid.UUID, error) {
	dbCtx, err := r.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read context: %w", err)
	}
	if dbCtx == nil || dbCtx.CurrentDBID == nil {
		return nil, nil
	}

	owned, err := r.owned.ListDatabases(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list owned databases: %w", err)
	}
	for _, db := range owned {
		if db.ID == *dbCtx.CurrentDBID {
			return dbCtx.CurrentDBID, nil
		}
	}
	// The pointer refers to a database the user no longer owns.
	return nil, nil
}

// SetCurrentDatabaseContext persists a new current database. The database
// must be owned by the user; the pointer update and the audit entry land
// in one store write.
func (r *Router) SetCurrentDatabaseContext(ctx context.Context, userID string, dbID uuid.UUID) error {
	owned, err := r.owned.ListDatabases(ctx, userID)
	if err != nil {
		return fmt.Errorf("list owned databases: %w", err)
	}

	found := false
	for _, db := range owned {
		if db.ID == dbID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", apperrors.ErrDatabaseNotOwned, dbID)
	}

	return r.persistSwitch(ctx, userID, dbID)
}

// persistSwitch writes the new pointer plus an audit log entry as a single
// context document, so the switch either registers fully or not at all.
func (r *Router) persistSwitch(ctx context.Context, userID string, dbID uuid.UUID) error {
	dbCtx, err := r.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	if dbCtx == nil {
		dbCtx = &DatabaseContext{}
	}

	now := r.now()
	dbCtx.CurrentDBID = &dbID
	dbCtx.LastSwitchTime = now
	dbCtx.RecentQueries = appendBounded(dbCtx.RecentQueries, QueryLogEntry{
		DBID:      dbID,
		Timestamp: now,
	}, r.recentDepth())

	return r.store.Set(ctx, userID, dbCtx)
}

// RecordQuery appends a routed query to the recent log for future scoring.
// Best-effort: failures are logged and swallowed.
func (r *Router) RecordQuery(ctx context.Context, userID string, dbID uuid.UUID) {
	dbCtx, err := r.store.Get(ctx, userID)
	if err == nil {
		if dbCtx == nil {
			dbCtx = &DatabaseContext{}
		}
		dbCtx.RecentQueries = appendBounded(dbCtx.RecentQueries, QueryLogEntry{
			DBID:      dbID,
			Timestamp: r.now(),
		}, r.recentDepth())
		err = r.store.Set(ctx, userID, dbCtx)
	}
	if err != nil {
		r.logger.Warn("recording query usage failed",
			zap.String("userID", userID),
			zap.Error(err),
		)
	}
}

// ClearContext drops the user's routing context entirely.
func (r *Router) ClearContext(ctx context.Context, userID string) error {
	return r.store.Clear(ctx, userID)
}

func (r *Router) recentDepth() int {
	if r.cfg.RecentQueryDepth <= 0 {
		return 20
	}
	return r.cfg.RecentQueryDepth
}

// appendBounded appends entry and drops the oldest entries beyond depth.
func appendBounded(log []QueryLogEntry, entry QueryLogEntry, depth int) []QueryLogEntry {
	log = append(log, entry)
	if len(log) > depth {
		log = log[len(log)-depth:]
	}
	return log
}
