// Package mysql implements the relational engine for MySQL over
// database/sql with the go-sql-driver driver.
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/easydata-inc/easydata-engine/pkg/apperrors"
	"github.com/easydata-inc/easydata-engine/pkg/engine"
	"github.com/easydata-inc/easydata-engine/pkg/vault"
)

func init() {
	engine.Register(&mysqlEngine{})
}

type mysqlEngine struct{}

func (e *mysqlEngine) Type() string          { return "mysql" }
func (e *mysqlEngine) Family() engine.Family { return engine.FamilyRelational }

type mysqlHandle struct {
	db *sql.DB
}

func (h *mysqlHandle) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

func (e *mysqlEngine) Open(ctx context.Context, creds *vault.Credentials) (engine.Handle, error) {
	dsnCfg := mysql.NewConfig()
	dsnCfg.User = creds.Username
	dsnCfg.Passwd = creds.Password
	dsnCfg.Net = "tcp"
	dsnCfg.Addr = fmt.Sprintf("%s:%d", creds.Host, creds.Port)
	dsnCfg.DBName = creds.Database
	dsnCfg.ParseTime = true

	db, err := sql.Open("mysql", dsnCfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrCredentialInvalid, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, classifyConnectError(err)
	}

	return &mysqlHandle{db: db}, nil
}

// classifyConnectError separates bad credentials from unreachable servers.
// 1045 is ER_ACCESS_DENIED_ERROR, 1049 ER_BAD_DB_ERROR.
func classifyConnectError(err error) error {
	if mysqlErr, ok := err.(*mysql.MySQLError); ok {
		switch mysqlErr.Number {
		case 1045, 1049:
			return fmt.Errorf("%w: %s", apperrors.ErrCredentialInvalid, mysqlErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", apperrors.ErrEngineUnreachable, err)
}

func (e *mysqlEngine) Close(ctx context.Context, h engine.Handle) error {
	handle, ok := h.(*mysqlHandle)
	if !ok {
		return fmt.Errorf("mysql engine received foreign handle %T", h)
	}
	return handle.db.Close()
}

// Query wraps the statement with a bounding subquery:
// SELECT * FROM (query) AS _q LIMIT n.
func (e *mysqlEngine) Query(ctx context.Context, h engine.Handle, req *engine.Request) (*engine.Rows, error) {
	handle, ok := h.(*mysqlHandle)
	if !ok {
		return nil, fmt.Errorf("mysql engine received foreign handle %T", h)
	}

	limit := req.EffectiveLimit()
	wrapped := fmt.Sprintf("SELECT * FROM (%s) AS _q LIMIT %d", req.SQL, limit)

	rows, err := handle.db.QueryContext(ctx, wrapped, req.Params...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	return engine.ScanSQLRows(rows, limit)
}

// Introspect reads information_schema for the connected database's tables
// and columns, ordered by table then ordinal position.
func (e *mysqlEngine) Introspect(ctx context.Context, h engine.Handle) ([]engine.TableDescriptor, error) {
	handle, ok := h.(*mysqlHandle)
	if !ok {
		return nil, fmt.Errorf("mysql engine received foreign handle %T", h)
	}

	const query = `
		SELECT c.TABLE_NAME, c.COLUMN_NAME, c.DATA_TYPE, c.IS_NULLABLE
		FROM information_schema.COLUMNS c
		JOIN information_schema.TABLES t
		  ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME
		WHERE c.TABLE_SCHEMA = DATABASE()
		  AND t.TABLE_TYPE = 'BASE TABLE'
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

// Ensure mysqlEngine implements Engine at compile time.
var _ engine.Engine = (*mysqlEngine)(nil)
