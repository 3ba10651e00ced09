// Package fanout coordinates one task across several databases: the task
// is decomposed into per-database sub-tasks, executed concurrently, and
// the results collected with partial failure as first-class data.
package fanout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/easydata-inc/easydata-engine/pkg/apperrors"
	"github.com/easydata-inc/easydata-engine/pkg/audit"
	"github.com/easydata-inc/easydata-engine/pkg/engine"
	"github.com/easydata-inc/easydata-engine/pkg/ownership"
	"github.com/easydata-inc/easydata-engine/pkg/planner"
	"github.com/easydata-inc/easydata-engine/pkg/registry"
	"github.com/easydata-inc/easydata-engine/pkg/schemacache"
)

// DefaultSubQueryTimeout bounds each database's share of a fan-out when no
// timeout is configured.
const DefaultSubQueryTimeout = 15 * time.Second

// DatabaseResult is one database's outcome within a fan-out. Rows and Err
// are mutually exclusive; a failed sub-query is a result, not a reason to
// abandon the rest.
type DatabaseResult struct {
	DBID    uuid.UUID    `json:"db_id"`
	DBName  string       `json:"db_name"`
	SubTask string       `json:"sub_task"`
	Rows    *engine.Rows `json:"rows,omitempty"`
	Err     error        `json:"-"`
}

// Executor is the slice of the connection registry the coordinator needs.
type Executor interface {
	Get(userID, dbType string) (*registry.Connection, error)
	ExecuteOnEngine(ctx context.Context, conn *registry.Connection, req *engine.Request) (*engine.Rows, error)
}

// SchemaSource provides schema snapshots for planning.
type SchemaSource interface {
	GetSchema(ctx context.Context, userID, dbType string, forceRefresh bool) (*schemacache.Snapshot, error)
}

// Coordinator runs multi-database queries.
type Coordinator struct {
	executor Executor
	schemas  SchemaSource
	planner  planner.Planner
	owned    ownership.Provider
	recorder audit.Recorder
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a coordinator. A zero timeout falls back to DefaultSubQueryTimeout.
func New(executor Executor, schemas SchemaSource, p planner.Planner, owned ownership.Provider,
	recorder audit.Recorder, timeout time.Duration, logger *zap.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultSubQueryTimeout
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Coordinator{
		executor: executor,
		schemas:  schemas,
		planner:  p,
		owned:    owned,
		recorder: recorder,
		timeout:  timeout,
		logger:   logger,
	}
}

// HandleMultiDatabaseQuery decomposes the task over the requested databases
// and executes the sub-queries concurrently. Databases the user does not
// own are skipped with a warning; the call fails only when nothing at all
// can be resolved. The returned slice preserves the request order of the
// databases that received a sub-task.
func (c *Coordinator) HandleMultiDatabaseQuery(ctx context.Context, userID, task string, dbIDs []uuid.UUID) ([]DatabaseResult, error) {
	owned, err := c.owned.ListDatabases(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list owned databases: %w", err)
	}

	targets := c.resolveTargets(userID, dbIDs, owned)
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: none of the requested databases belong to the user", apperrors.ErrDatabaseNotOwned)
	}

	metas, snapshots := c.collectSchemas(ctx, userID, targets)

	subTasks, err := c.planner.Decompose(ctx, task, metas)
	if err != nil {
		return nil, fmt.Errorf("decompose task: %w", err)
	}

	results := c.executeAll(ctx, userID, targets, snapshots, subTasks)

	c.record(ctx, userID, task, results)
	return results, nil
}

// resolveTargets filters the requested ids against ownership, preserving
// request order. An empty request means "all owned databases".
func (c *Coordinator) resolveTargets(userID string, dbIDs []uuid.UUID, owned []ownership.Database) []ownership.Database {
	if len(dbIDs) == 0 {
		return owned
	}

	byID := make(map[uuid.UUID]ownership.Database, len(owned))
	for _, db := range owned {
		byID[db.ID] = db
	}

	targets := make([]ownership.Database, 0, len(dbIDs))
	for _, id := range dbIDs {
		db, ok := byID[id]
		if !ok {
			c.logger.Warn("skipping database not owned by user",
				zap.String("userID", userID),
				zap.String("dbID", id.String()))
			continue
		}
		targets = append(targets, db)
	}
	return targets
}

// collectSchemas fetches a snapshot per target for planning. A failed
// fetch degrades that database to name-only metadata instead of failing
// the whole fan-out.
func (c *Coordinator) collectSchemas(ctx context.Context, userID string, targets []ownership.Database) ([]planner.DatabaseMeta, map[uuid.UUID]*schemacache.Snapshot) {
	metas := make([]planner.DatabaseMeta, 0, len(targets))
	snapshots := make(map[uuid.UUID]*schemacache.Snapshot, len(targets))

	for _, db := range targets {
		meta := planner.DatabaseMeta{ID: db.ID, Name: db.Name, DBType: db.DBType}

		snapshot, err := c.schemas.GetSchema(ctx, userID, db.DBType, false)
		if err != nil {
			c.logger.Warn("schema unavailable for fan-out planning",
				zap.String("userID", userID),
				zap.String("database", db.Name),
				zap.Error(err))
		} else {
			meta.Tables = snapshot.TableNames()
			snapshots[db.ID] = snapshot
		}
		metas = append(metas, meta)
	}
	return metas, snapshots
}

// executeAll runs every assigned sub-task concurrently, one goroutine per
// database, each bounded by the sub-query timeout.
func (c *Coordinator) executeAll(ctx context.Context, userID string, targets []ownership.Database,
	snapshots map[uuid.UUID]*schemacache.Snapshot, subTasks map[uuid.UUID]string) []DatabaseResult {

	assigned := make([]ownership.Database, 0, len(targets))
	for _, db := range targets {
		if _, ok := subTasks[db.ID]; ok {
			assigned = append(assigned, db)
		}
	}

	results := make([]DatabaseResult, len(assigned))
	var wg sync.WaitGroup
	for i, db := range assigned {
		wg.Add(1)
		go func(i int, db ownership.Database) {
			defer wg.Done()
			subTask := subTasks[db.ID]
			rows, err := c.executeOne(ctx, userID, db, snapshots[db.ID], subTask)
			results[i] = DatabaseResult{
				DBID:    db.ID,
				DBName:  db.Name,
				SubTask: subTask,
				Rows:    rows,
				Err:     err,
			}
		}(i, db)
	}
	wg.Wait()
	return results
}

// executeOne plans and runs a single sub-query against one database.
func (c *Coordinator) executeOne(ctx context.Context, userID string, db ownership.Database,
	snapshot *schemacache.Snapshot, subTask string) (*engine.Rows, error) {

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.executor.Get(userID, db.DBType)
	if err != nil {
		return nil, err
	}

	req, err := c.buildRequest(ctx, conn, snapshot, subTask)
	if err != nil {
		return nil, err
	}
	return c.executor.ExecuteOnEngine(ctx, conn, req)
}

// buildRequest turns a sub-task into an engine request. Relational targets
// go through the planner; document targets get a bounded find on the
// collection the sub-task names.
func (c *Coordinator) buildRequest(ctx context.Context, conn *registry.Connection,
	snapshot *schemacache.Snapshot, subTask string) (*engine.Request, error) {

	switch conn.Family() {
	case engine.FamilyRelational:
		if snapshot == nil {
			return nil, fmt.Errorf("%w: no schema available for planning", apperrors.ErrSchemaIntrospectionFailed)
		}
		query, err := c.planner.Plan(ctx, subTask, snapshot)
		if err != nil {
			return nil, err
		}
		return &engine.Request{SQL: query}, nil

	case engine.FamilyDocument:
		collection := pickCollection(subTask, snapshot)
		if collection == "" {
			return nil, fmt.Errorf("%w: sub-task names no known collection", apperrors.ErrOperationNotPermitted)
		}
		return &engine.Request{Collection: collection}, nil

	default:
		return nil, fmt.Errorf("unknown engine family %q", conn.Family())
	}
}

// pickCollection matches the sub-task text against known collection names,
// falling back to the first collection when nothing matches.
func pickCollection(subTask string, snapshot *schemacache.Snapshot) string {
	if snapshot == nil || len(snapshot.Tables) == 0 {
		return ""
	}
	lowered := strings.ToLower(subTask)
	for _, table := range snapshot.Tables {
		if strings.Contains(lowered, strings.ToLower(table.Name)) {
			return table.Name
		}
	}
	return snapshot.Tables[0].Name
}

// record persists the audit trail. Best-effort: failures are logged and
// never propagated to the caller.
func (c *Coordinator) record(ctx context.Context, userID, task string, results []DatabaseResult) {
	outcomes := make([]audit.SubQueryOutcome, 0, len(results))
	for _, res := range results {
		outcome := audit.SubQueryOutcome{
			DBID:    res.DBID,
			SubTask: res.SubTask,
		}
		if res.Rows != nil {
			outcome.RowCount = res.Rows.RowCount
		}
		if res.Err != nil {
			outcome.Error = res.Err.Error()
		}
		outcomes = append(outcomes, outcome)
	}

	err := c.recorder.RecordMultiDbQuery(ctx, &audit.MultiDbQueryRecord{
		UserID:   userID,
		Task:     task,
		Outcomes: outcomes,
	})
	if err != nil {
		c.logger.Warn("multi-db query audit record failed",
			zap.String("userID", userID),
			zap.Error(err))
	}
}

// PartialFailure summarizes a fan-out result set: how many sub-queries
// succeeded and the first error encountered, if any. Callers can report
// "3 of 4 databases answered" without re-walking the slice.
func PartialFailure(results []DatabaseResult) (succeeded int, firstErr error) {
	for _, res := range results {
		if res.Err == nil {
			succeeded++
		} else if firstErr == nil {
			firstErr = fmt.Errorf("%w: %s: %v", apperrors.ErrPartialFanout, res.DBName, res.Err)
		}
	}
	return succeeded, firstErr
}
