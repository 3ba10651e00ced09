// Package ownership resolves which databases a user owns. The engine core
// treats the backing API as an external collaborator; the router and the
// fan-out coordinator only consume the Provider interface.
package ownership

import (
	"context"

	"github.com/google/uuid"
)

// Database describes one database a user has attached to their account.
type Database struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`            // database name ("SalesDB")
	ConnectionName string    `json:"connection_name"` // user-chosen label
	DBType         string    `json:"db_type"`         // engine type ("postgres", "mongodb")
}

// Provider lists the databases a user owns.
type Provider interface {
	ListDatabases(ctx context.Context, userID string) ([]Database, error)
}
