// Package apperrors defines the sentinel errors shared across the engine core.
// Components return these wrapped with fmt.Errorf("...: %w", err) so callers
// can match with errors.Is without depending on error strings.
package apperrors

import "errors"

var (
	// ErrAlreadyConnected is returned when a live connection already exists
	// for a (user, database type) key.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrNoActiveConnection is returned when an operation requires a live
	// connection that does not exist.
	ErrNoActiveConnection = errors.New("no active connection")

	// ErrCredentialInvalid is returned when credentials are missing,
	// malformed, or rejected by the target engine.
	ErrCredentialInvalid = errors.New("invalid credentials")

	// ErrEngineUnreachable is returned when the target database engine
	// cannot be reached. Retrying is the caller's decision.
	ErrEngineUnreachable = errors.New("engine unreachable")

	// ErrOperationNotPermitted is returned when a routed query attempts
	// anything outside the read-only allow list.
	ErrOperationNotPermitted = errors.New("operation not permitted")

	// ErrSchemaIntrospectionFailed is returned when schema introspection
	// fails. Stale cached snapshots are never substituted for it.
	ErrSchemaIntrospectionFailed = errors.New("schema introspection failed")

	// ErrDatabaseNotOwned is returned when a user references a database
	// they do not own.
	ErrDatabaseNotOwned = errors.New("database not owned by user")

	// ErrAmbiguousContext is returned when the router cannot resolve which
	// database a task targets. Callers should prompt rather than guess.
	ErrAmbiguousContext = errors.New("ambiguous database context")

	// ErrPartialFanout marks a fan-out where some, but not all,
	// sub-databases failed. Per-database results carry the detail.
	ErrPartialFanout = errors.New("partial fan-out failure")
)
