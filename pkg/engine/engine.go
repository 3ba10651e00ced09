// Package engine defines the capability interface implemented by each
// database engine family. An Engine is selected once at connect time and
// stored on the Connection, so call sites never type-switch on the
// database type.
package engine

import (
	"context"

	"github.com/easydata-inc/easydata-engine/pkg/vault"
)

// Family is the execution model of an engine.
type Family string

const (
	// FamilyRelational engines execute parameterized SQL text.
	FamilyRelational Family = "relational"
	// FamilyDocument engines execute structured collection/filter requests.
	FamilyDocument Family = "document"
)

// MaxQueryLimit is the hard cap on rows returned by Query.
// This protects against unbounded queries that could crash the server.
const MaxQueryLimit = 1000

// Handle is an opaque live connection owned by exactly one registry entry.
// Only the Engine that opened it knows its concrete type.
type Handle interface {
	// Ping verifies the handle is still usable.
	Ping(ctx context.Context) error
}

// Request describes one query. Relational engines read SQL and Params;
// document engines read Collection, Filter, and Projection.
type Request struct {
	// SQL is the statement text (relational family).
	SQL string `json:"sql,omitempty"`
	// Params are positional parameters for SQL placeholders.
	Params []any `json:"params,omitempty"`

	// Collection names the target collection (document family).
	Collection string `json:"collection,omitempty"`
	// Filter is the structured read filter (document family).
	Filter map[string]any `json:"filter,omitempty"`
	// Projection optionally restricts returned fields (document family).
	Projection map[string]any `json:"projection,omitempty"`

	// Limit bounds the result set. Zero or negative means MaxQueryLimit;
	// anything above MaxQueryLimit is capped.
	Limit int `json:"limit,omitempty"`
}

// EffectiveLimit resolves the request limit against MaxQueryLimit.
func (r *Request) EffectiveLimit() int {
	if r.Limit <= 0 || r.Limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return r.Limit
}

// Rows holds the results of a query execution.
type Rows struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// TableDescriptor describes one table or collection in a schema snapshot.
type TableDescriptor struct {
	Name    string             `json:"name"`
	Columns []ColumnDescriptor `json:"columns"`
}

// ColumnDescriptor describes one column or sampled document field.
type ColumnDescriptor struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	IsNullable bool   `json:"is_nullable"`
}

// Engine is the per-family capability interface. Implementations must be
// stateless: all per-connection state lives in the Handle.
type Engine interface {
	// Type returns the engine identifier ("postgres", "mysql", "mongodb", ...).
	Type() string

	// Family returns the execution model of this engine.
	Family() Family

	// Open establishes a live handle using the supplied credentials.
	Open(ctx context.Context, creds *vault.Credentials) (Handle, error)

	// Close releases the handle.
	Close(ctx context.Context, h Handle) error

	// Query executes a read request against the handle. Results are always
	// bounded by Request.EffectiveLimit.
	Query(ctx context.Context, h Handle, req *Request) (*Rows, error)

	// Introspect returns the table/collection descriptors for the database
	// behind the handle, in a stable order.
	Introspect(ctx context.Context, h Handle) ([]TableDescriptor, error)
}
