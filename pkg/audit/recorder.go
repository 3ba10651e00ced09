// Package audit persists and logs audit trails: multi-database query
// records in the engine's own PostgreSQL, and security events in
// structured JSON for SIEM consumption.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/easydata-inc/easydata-engine/pkg/database"
)

// SubQueryOutcome summarizes one database's part of a fan-out execution.
type SubQueryOutcome struct {
	DBID     uuid.UUID `json:"db_id"`
	SubTask  string    `json:"sub_task"`
	RowCount int       `json:"row_count"`
	Error    string    `json:"error,omitempty"`
}

// MultiDbQueryRecord is the persisted audit trail of one cross-database
// query, including partial failures.
type MultiDbQueryRecord struct {
	ID        uuid.UUID
	UserID    string
	Task      string
	Outcomes  []SubQueryOutcome
	CreatedAt time.Time
}

// Recorder persists multi-database query records. Recording is always
// best-effort from the caller's point of view: failures must never fail
// the query that produced the record.
type Recorder interface {
	RecordMultiDbQuery(ctx context.Context, record *MultiDbQueryRecord) error
}

// PostgresRecorder writes records into the engine database.
type PostgresRecorder struct {
	db     *database.DB
	logger *zap.Logger
}

// NewPostgresRecorder creates a recorder backed by the engine database.
func NewPostgresRecorder(db *database.DB, logger *zap.Logger) *PostgresRecorder {
	return &PostgresRecorder{db: db, logger: logger}
}

// RecordMultiDbQuery implements Recorder.
func (r *PostgresRecorder) RecordMultiDbQuery(ctx context.Context, record *MultiDbQueryRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	outcomes, err := json.Marshal(record.Outcomes)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO multi_db_query_records (id, user_id, task, outcomes, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		record.ID, record.UserID, record.Task, outcomes, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert multi-db query record: %w", err)
	}

	r.logger.Debug("recorded multi-db query",
		zap.String("record_id", record.ID.String()),
		zap.String("user_id", record.UserID),
		zap.Int("outcomes", len(record.Outcomes)))
	return nil
}

// Ensure PostgresRecorder implements Recorder at compile time.
var _ Recorder = (*PostgresRecorder)(nil)

// NopRecorder discards records. Used when the engine database is not
// configured and in tests.
type NopRecorder struct{}

// RecordMultiDbQuery implements Recorder.
func (NopRecorder) RecordMultiDbQuery(context.Context, *MultiDbQueryRecord) error { return nil }

// Ensure NopRecorder implements Recorder at compile time.
var _ Recorder = NopRecorder{}
