// Package postgres implements the relational engine for PostgreSQL using
// pgx connection pools.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/easydata-inc/easydata-engine/pkg/apperrors"
	"github.com/easydata-inc/easydata-engine/pkg/engine"
	"github.com/easydata-inc/easydata-engine/pkg/vault"
)

func init() {
	engine.Register(&pgEngine{})
}

type pgEngine struct{}

func (e *pgEngine) Type() string          { return "postgres" }
func (e *pgEngine) Family() engine.Family { return engine.FamilyRelational }

type pgHandle struct {
	pool *pgxpool.Pool
}

func (h *pgHandle) Ping(ctx context.Context) error {
	return h.pool.Ping(ctx)
}

// Open creates a connection pool and verifies reachability with a ping.
// Authentication failures map to ErrCredentialInvalid, everything else on
// the connect path to ErrEngineUnreachable.
func (e *pgEngine) Open(ctx context.Context, creds *vault.Credentials) (engine.Handle, error) {
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(creds.Username), url.QueryEscape(creds.Password),
		creds.Host, creds.Port, creds.Database)
	if sslmode, ok := creds.Options["sslmode"]; ok {
		connString += "?sslmode=" + url.QueryEscape(sslmode)
	}

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("%w: parse connection config: %v", apperrors.ErrCredentialInvalid, err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrEngineUnreachable, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classifyConnectError(err)
	}

	return &pgHandle{pool: pool}, nil
}

// classifyConnectError separates bad credentials from unreachable servers.
// 28P01 is invalid_password, 28000 invalid_authorization_specification,
// 3D000 invalid_catalog_name (database does not exist).
func classifyConnectError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28P01", "28000", "3D000":
			return fmt.Errorf("%w: %s", apperrors.ErrCredentialInvalid, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", apperrors.ErrEngineUnreachable, err)
}

func (e *pgEngine) Close(ctx context.Context, h engine.Handle) error {
	handle, ok := h.(*pgHandle)
	if !ok {
		return fmt.Errorf("postgres engine received foreign handle %T", h)
	}
	handle.pool.Close()
	return nil
}

// Query wraps the statement with a bounding subquery so results are never
// unbounded: SELECT * FROM (query) AS _q LIMIT n.
func (e *pgEngine) Query(ctx context.Context, h engine.Handle, req *engine.Request) (*engine.Rows, error) {
	handle, ok := h.(*pgHandle)
	if !ok {
		return nil, fmt.Errorf("postgres engine received foreign handle %T", h)
	}

	wrapped := fmt.Sprintf("SELECT * FROM (%s) AS _q LIMIT %d", req.SQL, req.EffectiveLimit())

	rows, err := handle.pool.Query(ctx, wrapped, req.Params...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = fd.Name
	}

	result := &engine.Rows{
		Columns: columns,
		Rows:    make([]map[string]any, 0),
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// Introspect reads the catalog for user tables and their columns, ordered
// by table then ordinal position.
func (e *pgEngine) Introspect(ctx context.Context, h engine.Handle) ([]engine.TableDescriptor, error) {
	handle, ok := h.(*pgHandle)
	if !ok {
		return nil, fmt.Errorf("postgres engine received foreign handle %T", h)
	}

	const query = `
		SELECT c.table_name, c.column_name, c.data_type, c.is_nullable
		FROM information_schema.columns c
		JOIN information_schema.tables t
		  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		WHERE c.table_schema NOT IN ('pg_catalog', 'information_schema')
		  AND t.table_type = 'BASE TABLE'
		ORDER BY c.table_name, c.ordinal_position`

	rows, err := handle.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	var tables []engine.TableDescriptor
	byName := make(map[string]int)

	for rows.Next() {
		var tableName, columnName, dataType, isNullable string
		if err := rows.Scan(&tableName, &columnName, &dataType, &isNullable); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}

		idx, ok := byName[tableName]
		if !ok {
			tables = append(tables, engine.TableDescriptor{Name: tableName})
			idx = len(tables) - 1
			byName[tableName] = idx
		}
		tables[idx].Columns = append(tables[idx].Columns, engine.ColumnDescriptor{
			Name:       columnName,
			DataType:   dataType,
			IsNullable: isNullable == "YES",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog rows: %w", err)
	}

	return tables, nil
}

// Ensure pgEngine implements Engine at compile time.
var _ engine.Engine = (*pgEngine)(nil)
