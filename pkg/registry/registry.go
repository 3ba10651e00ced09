// Package registry owns the set of live database handles, one per
// (user, database type) key. Connect/disconnect are serialized per key so
// interleaved operations can never orphan a handle; the shared map lock is
// never held across engine I/O.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/easydata-inc/easydata-engine/pkg/apperrors"
	"github.com/easydata-inc/easydata-engine/pkg/audit"
	"github.com/easydata-inc/easydata-engine/pkg/crypto"
	"github.com/easydata-inc/easydata-engine/pkg/engine"
	"github.com/easydata-inc/easydata-engine/pkg/logging"
	"github.com/easydata-inc/easydata-engine/pkg/sqlcheck"
	"github.com/easydata-inc/easydata-engine/pkg/vault"
)

// Connection is a live, exclusively owned handle to one user's database.
// Credentials are held only as an encrypted blob; the plaintext never
// outlives the Connect call.
type Connection struct {
	UserID      string
	DBType      string
	ConnectedAt time.Time

	eng            engine.Engine
	handle         engine.Handle
	credentialBlob string
}

// Family returns the execution model of the connection's engine.
func (c *Connection) Family() engine.Family { return c.eng.Family() }

// CredentialBlob returns the encrypted credential blob held for this
// connection. Exposed for operational inspection; it is never decrypted
// outside the registry.
func (c *Connection) CredentialBlob() string { return c.credentialBlob }

// ConnectionSummary is the operational view of a live connection.
type ConnectionSummary struct {
	UserID      string        `json:"user_id"`
	DBType      string        `json:"db_type"`
	Family      engine.Family `json:"family"`
	ConnectedAt time.Time     `json:"connected_at"`
}

// Registry is the single owner of all live connections. Safe for
// concurrent use by all request-handling workers.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection // key: "{userID}:{dbType}"

	keyMu    sync.Mutex
	keyLocks map[string]*sync.Mutex

	encryptor *crypto.CredentialEncryptor
	auditor   *audit.SecurityAuditor
	logger    *zap.Logger
}

// New creates an empty registry.
func New(encryptor *crypto.CredentialEncryptor, logger *zap.Logger) *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		keyLocks:    make(map[string]*sync.Mutex),
		encryptor:   encryptor,
		logger:      logger,
	}
}

// SetSecurityAuditor enables security-event logging on the execute path.
// Pass nil to disable.
func (r *Registry) SetSecurityAuditor(auditor *audit.SecurityAuditor) {
	r.auditor = auditor
}

func connectionKey(userID, dbType string) string {
	return userID + ":" + dbType
}

// lockFor returns the per-key mutex, creating it on first use. Per-key
// locks serialize connect/disconnect for one (user, dbType) without
// blocking other users' operations.
func (r *Registry) lockFor(key string) *sync.Mutex {
	r.keyMu.Lock()
	defer r.keyMu.Unlock()

	if l, ok := r.keyLocks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	r.keyLocks[key] = l
	return l
}

// Connect opens a live connection for (userID, dbType). If one already
// exists the call fails with ErrAlreadyConnected and the existing handle is
// left untouched. Credentials are encrypted before being retained; connect
// failures are surfaced without retries (retry policy belongs to the caller).
func (r *Registry) Connect(ctx context.Context, userID, dbType string, creds *vault.Credentials) (*Connection, error) {
	if creds == nil {
		return nil, fmt.Errorf("%w: no credentials supplied", apperrors.ErrCredentialInvalid)
	}

	key := connectionKey(userID, dbType)
	keyLock := r.lockFor(key)
	keyLock.Lock()
	defer keyLock.Unlock()

	r.mu.RLock()
	_, exists := r.connections[key]
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: %s/%s", apperrors.ErrAlreadyConnected, userID, dbType)
	}

	eng, err := engine.Get(dbType)
	if err != nil {
		return nil, err
	}

	// Encrypt before the engine call so plaintext never sits in a
	// long-lived structure.
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal credentials: %v", apperrors.ErrCredentialInvalid, err)
	}
	blob, err := r.encryptor.Encrypt(string(plaintext))
	if err != nil {
		return nil, fmt.Errorf("encrypt credentials: %w", err)
	}

	handle, err := eng.Open(ctx, creds)
	if err != nil {
		r.logger.Warn("connect failed",
			zap.String("userID", userID),
			zap.String("dbType", dbType),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, err
	}

	conn := &Connection{
		UserID:         userID,
		DBType:         dbType,
		ConnectedAt:    time.Now(),
		eng:            eng,
		handle:         handle,
		credentialBlob: blob,
	}

	r.mu.Lock()
	r.connections[key] = conn
	total := len(r.connections)
	r.mu.Unlock()

	r.logger.Info("connection established",
		zap.String("userID", userID),
		zap.String("dbType", dbType),
		zap.String("family", string(eng.Family())),
		zap.Int("totalConnections", total),
	)

	return conn, nil
}

// IsConnected reports whether a live connection exists for the key. O(1).
func (r *Registry) IsConnected(userID, dbType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.connections[connectionKey(userID, dbType)]
	return ok
}

// Get returns the live connection for the key, or ErrNoActiveConnection.
func (r *Registry) Get(userID, dbType string) (*Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[connectionKey(userID, dbType)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", apperrors.ErrNoActiveConnection, userID, dbType)
	}
	return conn, nil
}

// Disconnect releases the engine handle and removes the registry entry.
// Disconnecting a key with no entry is a no-op that logs a warning.
func (r *Registry) Disconnect(ctx context.Context, userID, dbType string) error {
	key := connectionKey(userID, dbType)
	keyLock := r.lockFor(key)
	keyLock.Lock()
	defer keyLock.Unlock()

	r.mu.Lock()
	conn, ok := r.connections[key]
	if ok {
		delete(r.connections, key)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Warn("disconnect for unknown connection",
			zap.String("userID", userID),
			zap.String("dbType", dbType),
		)
		return nil
	}

	if err := conn.eng.Close(ctx, conn.handle); err != nil {
		r.logger.Warn("engine close failed",
			zap.String("userID", userID),
			zap.String("dbType", dbType),
			zap.String("error", logging.SanitizeError(err)),
		)
		return fmt.Errorf("close %s handle: %w", dbType, err)
	}

	r.logger.Info("connection closed",
		zap.String("userID", userID),
		zap.String("dbType", dbType),
	)
	return nil
}

// ExecuteOnEngine runs a routed query on the connection. Both engine
// families enforce the read-only allow list here: relational SQL is
// validated and normalized, document requests are find-only by shape.
func (r *Registry) ExecuteOnEngine(ctx context.Context, conn *Connection, req *engine.Request) (*engine.Rows, error) {
	switch conn.eng.Family() {
	case engine.FamilyRelational:
		result := sqlcheck.ValidateReadOnly(req.SQL)
		if result.Error != nil {
			if r.auditor != nil {
				r.auditor.LogQueryRejected(conn.UserID, conn.DBType, result.Error.Error())
			}
			return nil, fmt.Errorf("%w: %v", apperrors.ErrOperationNotPermitted, result.Error)
		}
		if hit := checkParams(req.Params); hit != nil {
			if r.auditor != nil {
				r.auditor.LogInjectionAttempt(conn.UserID, conn.DBType, audit.SQLInjectionDetails{
					ParamName:   hit.ParamName,
					ParamValue:  fmt.Sprintf("%v", hit.ParamValue),
					Fingerprint: hit.Fingerprint,
				})
			}
			return nil, fmt.Errorf("%w: parameter %s failed injection check", apperrors.ErrOperationNotPermitted, hit.ParamName)
		}
		validated := *req
		validated.SQL = result.NormalizedSQL
		return conn.eng.Query(ctx, conn.handle, &validated)

	case engine.FamilyDocument:
		if req.Collection == "" {
			return nil, fmt.Errorf("%w: document request missing collection", apperrors.ErrOperationNotPermitted)
		}
		return conn.eng.Query(ctx, conn.handle, req)

	default:
		return nil, fmt.Errorf("unknown engine family %q", conn.eng.Family())
	}
}

// checkParams runs the libinjection check over positional parameters and
// returns the first hit, or nil when all values are clean.
func checkParams(params []any) *sqlcheck.InjectionCheckResult {
	for i, value := range params {
		if hit := sqlcheck.CheckParameterForInjection(fmt.Sprintf("$%d", i+1), value); hit != nil {
			return hit
		}
	}
	return nil
}

// Introspect reads the schema behind the connection. Failures are wrapped
// as ErrSchemaIntrospectionFailed so the schema cache never masks them.
func (r *Registry) Introspect(ctx context.Context, userID, dbType string) ([]engine.TableDescriptor, error) {
	conn, err := r.Get(userID, dbType)
	if err != nil {
		return nil, err
	}

	tables, err := conn.eng.Introspect(ctx, conn.handle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrSchemaIntrospectionFailed, err)
	}
	return tables, nil
}

// ListActive returns a summary of every live connection for operational
// and ownership checks by outer layers.
func (r *Registry) ListActive() []ConnectionSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]ConnectionSummary, 0, len(r.connections))
	for _, conn := range r.connections {
		summaries = append(summaries, ConnectionSummary{
			UserID:      conn.UserID,
			DBType:      conn.DBType,
			Family:      conn.eng.Family(),
			ConnectedAt: conn.ConnectedAt,
		})
	}
	return summaries
}

// CloseAll drains every connection on shutdown. Per-entry failures are
// collected and logged; the sweep never aborts.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	drained := r.connections
	r.connections = make(map[string]*Connection)
	r.mu.Unlock()

	failures := 0
	for key, conn := range drained {
		if err := conn.eng.Close(ctx, conn.handle); err != nil {
			failures++
			r.logger.Warn("close failed during drain",
				zap.String("key", key),
				zap.String("error", logging.SanitizeError(err)),
			)
		}
	}

	r.logger.Info("registry drained",
		zap.Int("closed", len(drained)-failures),
		zap.Int("failed", failures),
	)
}

// CheckConnection verifies credentials by opening a transient handle,
// counting tables, and closing again. The registry is not touched.
func (r *Registry) CheckConnection(ctx context.Context, dbType string, creds *vault.Credentials) (int, error) {
	eng, err := engine.Get(dbType)
	if err != nil {
		return 0, err
	}

	handle, err := eng.Open(ctx, creds)
	if err != nil {
		return 0, err
	}
	defer func() {
		if closeErr := eng.Close(ctx, handle); closeErr != nil {
			r.logger.Warn("close failed after connection check",
				zap.String("dbType", dbType),
				zap.String("error", logging.SanitizeError(closeErr)),
			)
		}
	}()

	tables, err := eng.Introspect(ctx, handle)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", apperrors.ErrSchemaIntrospectionFailed, err)
	}
	return len(tables), nil
}
