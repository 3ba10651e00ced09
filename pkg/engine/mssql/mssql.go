// Package mssql implements the relational engine for SQL Server over
// database/sql with the go-mssqldb driver.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/easydata-inc/easydata-engine/pkg/apperrors"
	"github.com/easydata-inc/easydata-engine/pkg/engine"
	"github.com/easydata-inc/easydata-engine/pkg/vault"
)

func init() {
	engine.Register(&mssqlEngine{})
}

type mssqlEngine struct{}

func (e *mssqlEngine) Type() string          { return "mssql" }
func (e *mssqlEngine) Family() engine.Family { return engine.FamilyRelational }

type mssqlHandle struct {
	db *sql.DB
}

func (h *mssqlHandle) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

func (e *mssqlEngine) Open(ctx context.Context, creds *vault.Credentials) (engine.Handle, error) {
	dsn := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(creds.Username, creds.Password),
		Host:     fmt.Sprintf("%s:%d", creds.Host, creds.Port),
		RawQuery: url.Values{"database": []string{creds.Database}}.Encode(),
	}

	db, err := sql.Open("sqlserver", dsn.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrCredentialInvalid, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, classifyConnectError(err)
	}

	return &mssqlHandle{db: db}, nil
}

// classifyConnectError separates bad credentials from unreachable servers.
// 18456 is "login failed", 4060 "cannot open database".
func classifyConnectError(err error) error {
	var sqlErr mssqldb.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Number {
		case 18456, 4060:
			return fmt.Errorf("%w: %s", apperrors.ErrCredentialInvalid, sqlErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", apperrors.ErrEngineUnreachable, err)
}

func (e *mssqlEngine) Close(ctx context.Context, h engine.Handle) error {
	handle, ok := h.(*mssqlHandle)
	if !ok {
		return fmt.Errorf("mssql engine received foreign handle %T", h)
	}
	return handle.db.Close()
}

// Query wraps the statement with a bounding subquery:
// SELECT TOP (n) * FROM (query) AS _q.
func (e *mssqlEngine) Query(ctx context.Context, h engine.Handle, req *engine.Request) (*engine.Rows, error) {
	handle, ok := h.(*mssqlHandle)
	if !ok {
		return nil, fmt.Errorf("mssql engine received foreign handle %T", h)
	}

	limit := req.EffectiveLimit()
	wrapped := fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _q", limit, req.SQL)

	rows, err := handle.db.QueryContext(ctx, wrapped, req.Params...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	return engine.ScanSQLRows(rows, limit)
}

// Introspect reads INFORMATION_SCHEMA for user tables and columns, ordered
// by table then ordinal position.
func (e *mssqlEngine) Introspect(ctx context.Context, h engine.Handle) ([]engine.TableDescriptor, error) {
	handle, ok := h.(*mssqlHandle)
	if !ok {
		return nil, fmt.Errorf("mssql engine received foreign handle %T", h)
	}

	const query = `
		SELECT c.TABLE_NAME, c.COLUMN_NAME, c.DATA_TYPE, c.IS_NULLABLE
		FROM INFORMATION_SCHEMA.COLUMNS c
		JOIN INFORMATION_SCHEMA.TABLES t
		  ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME
		WHERE t.TABLE_TYPE = 'BASE TABLE'
		ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`

	rows, err := handle.db.QueryContext(ctx, query)
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

// Ensure mssqlEngine implements Engine at compile time.
var _ engine.Engine = (*mssqlEngine)(nil)
