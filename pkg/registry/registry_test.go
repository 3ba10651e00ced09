package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/easydata-inc/easydata-engine/pkg/apperrors"
	"github.com/easydata-inc/easydata-engine/pkg/crypto"
	"github.com/easydata-inc/easydata-engine/pkg/engine"
	"github.com/easydata-inc/easydata-engine/pkg/vault"
)

// fakeHandle is an in-memory engine handle.
type fakeHandle struct {
	closed atomic.Bool
}

func (h *fakeHandle) Ping(ctx context.Context) error { return nil }

// fakeEngine is a configurable in-memory engine registered under a unique
// type name per behavior, since the engine registry is process-global.
type fakeEngine struct {
	typeName string
	family   engine.Family
	openErr  error

	mu      sync.Mutex
	opened  []*fakeHandle
	queries []*engine.Request
}

func (e *fakeEngine) Type() string          { return e.typeName }
func (e *fakeEngine) Family() engine.Family { return e.family }

func (e *fakeEngine) Open(ctx context.Context, creds *vault.Credentials) (engine.Handle, error) {
	if e.openErr != nil {
		return nil, e.openErr
	}
	h := &fakeHandle{}
	e.mu.Lock()
	e.opened = append(e.opened, h)
	e.mu.Unlock()
	return h, nil
}

func (e *fakeEngine) Close(ctx context.Context, h engine.Handle) error {
	h.(*fakeHandle).closed.Store(true)
	return nil
}

func (e *fakeEngine) Query(ctx context.Context, h engine.Handle, req *engine.Request) (*engine.Rows, error) {
	e.mu.Lock()
	e.queries = append(e.queries, req)
	e.mu.Unlock()
	return &engine.Rows{Columns: []string{"n"}, Rows: []map[string]any{{"n": 1}}, RowCount: 1}, nil
}

func (e *fakeEngine) Introspect(ctx context.Context, h engine.Handle) ([]engine.TableDescriptor, error) {
	return []engine.TableDescriptor{{Name: "orders"}, {Name: "users"}}, nil
}

func init() {
	engine.Register(&fakeEngine{typeName: "fakerel", family: engine.FamilyRelational})
	engine.Register(&fakeEngine{typeName: "fakedoc", family: engine.FamilyDocument})
	engine.Register(&fakeEngine{typeName: "fakedown", family: engine.FamilyRelational,
		openErr: apperrors.ErrEngineUnreachable})
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	enc, err := crypto.NewCredentialEncryptor("test-key")
	require.NoError(t, err)
	return New(enc, zap.NewNop())
}

func testCreds() *vault.Credentials {
	return &vault.Credentials{Host: "db.internal", Port: 5432, Username: "u", Password: "p", Database: "sales"}
}

func TestConnect_And_IsConnected(t *testing.T) {
	reg := newTestRegistry(t)

	conn, err := reg.Connect(context.Background(), "user-1", "fakerel", testCreds())
	require.NoError(t, err)
	assert.Equal(t, "user-1", conn.UserID)
	assert.Equal(t, engine.FamilyRelational, conn.Family())
	assert.True(t, reg.IsConnected("user-1", "fakerel"))
	assert.False(t, reg.IsConnected("user-1", "fakedoc"))
	assert.False(t, reg.IsConnected("user-2", "fakerel"))
}

func TestConnect_DuplicateRejected(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Connect(context.Background(), "user-1", "fakerel", testCreds())
	require.NoError(t, err)

	_, err = reg.Connect(context.Background(), "user-1", "fakerel", testCreds())
	assert.ErrorIs(t, err, apperrors.ErrAlreadyConnected)
}

func TestConnect_SameTypeDifferentUsers(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Connect(context.Background(), "user-1", "fakerel", testCreds())
	require.NoError(t, err)
	_, err = reg.Connect(context.Background(), "user-2", "fakerel", testCreds())
	require.NoError(t, err)

	assert.Len(t, reg.ListActive(), 2)
}

func TestConnect_NilCredentials(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Connect(context.Background(), "user-1", "fakerel", nil)
	assert.ErrorIs(t, err, apperrors.ErrCredentialInvalid)
}

func TestConnect_UnknownEngineType(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Connect(context.Background(), "user-1", "no-such-engine", testCreds())
	assert.Error(t, err)
	assert.False(t, reg.IsConnected("user-1", "no-such-engine"))
}

func TestConnect_OpenFailureLeavesNoEntry(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Connect(context.Background(), "user-1", "fakedown", testCreds())
	assert.ErrorIs(t, err, apperrors.ErrEngineUnreachable)
	assert.False(t, reg.IsConnected("user-1", "fakedown"))

	// The key is free for a later attempt.
	_, err = reg.Connect(context.Background(), "user-1", "fakedown", testCreds())
	assert.ErrorIs(t, err, apperrors.ErrEngineUnreachable)
}

func TestConnect_CredentialsHeldOnlyEncrypted(t *testing.T) {
	reg := newTestRegistry(t)

	conn, err := reg.Connect(context.Background(), "user-1", "fakerel", testCreds())
	require.NoError(t, err)

	blob := conn.CredentialBlob()
	assert.NotEmpty(t, blob)
	assert.NotContains(t, blob, "s3cret")
	assert.NotContains(t, blob, "db.internal")
}

func TestDisconnect(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Connect(context.Background(), "user-1", "fakerel", testCreds())
	require.NoError(t, err)

	require.NoError(t, reg.Disconnect(context.Background(), "user-1", "fakerel"))
	assert.False(t, reg.IsConnected("user-1", "fakerel"))

	// Disconnecting an unknown key is a logged no-op.
	assert.NoError(t, reg.Disconnect(context.Background(), "user-1", "fakerel"))
}

func TestGet(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Get("user-1", "fakerel")
	assert.ErrorIs(t, err, apperrors.ErrNoActiveConnection)

	want, err := reg.Connect(context.Background(), "user-1", "fakerel", testCreds())
	require.NoError(t, err)

	got, err := reg.Get("user-1", "fakerel")
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestExecuteOnEngine_RelationalReadOnly(t *testing.T) {
	reg := newTestRegistry(t)
	conn, err := reg.Connect(context.Background(), "user-1", "fakerel", testCreds())
	require.NoError(t, err)

	rows, err := reg.ExecuteOnEngine(context.Background(), conn, &engine.Request{SQL: "SELECT * FROM users;"})
	require.NoError(t, err)
	assert.Equal(t, 1, rows.RowCount)

	_, err = reg.ExecuteOnEngine(context.Background(), conn, &engine.Request{SQL: "DROP TABLE users"})
	assert.ErrorIs(t, err, apperrors.ErrOperationNotPermitted)
}

func TestExecuteOnEngine_InjectionInParameters(t *testing.T) {
	reg := newTestRegistry(t)
	conn, err := reg.Connect(context.Background(), "user-1", "fakerel", testCreds())
	require.NoError(t, err)

	_, err = reg.ExecuteOnEngine(context.Background(), conn, &engine.Request{
		SQL:    "SELECT * FROM users WHERE name = $1",
		Params: []any{"'; DROP TABLE users--"},
	})
	assert.ErrorIs(t, err, apperrors.ErrOperationNotPermitted)
}

func TestExecuteOnEngine_DocumentRequiresCollection(t *testing.T) {
	reg := newTestRegistry(t)
	conn, err := reg.Connect(context.Background(), "user-1", "fakedoc", testCreds())
	require.NoError(t, err)

	_, err = reg.ExecuteOnEngine(context.Background(), conn, &engine.Request{})
	assert.ErrorIs(t, err, apperrors.ErrOperationNotPermitted)

	rows, err := reg.ExecuteOnEngine(context.Background(), conn, &engine.Request{Collection: "orders"})
	require.NoError(t, err)
	assert.Equal(t, 1, rows.RowCount)
}

func TestIntrospect(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Introspect(context.Background(), "user-1", "fakerel")
	assert.ErrorIs(t, err, apperrors.ErrNoActiveConnection)

	_, err = reg.Connect(context.Background(), "user-1", "fakerel", testCreds())
	require.NoError(t, err)

	tables, err := reg.Introspect(context.Background(), "user-1", "fakerel")
	require.NoError(t, err)
	assert.Len(t, tables, 2)
}

func TestCloseAll(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Connect(context.Background(), "user-1", "fakerel", testCreds())
	require.NoError(t, err)
	_, err = reg.Connect(context.Background(), "user-2", "fakedoc", testCreds())
	require.NoError(t, err)

	reg.CloseAll(context.Background())
	assert.Empty(t, reg.ListActive())
	assert.False(t, reg.IsConnected("user-1", "fakerel"))
}

func TestConnect_ConcurrentSameKey(t *testing.T) {
	reg := newTestRegistry(t)

	const workers = 16
	var wg sync.WaitGroup
	var successes, duplicates atomic.Int32

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Connect(context.Background(), "user-1", "fakerel", testCreds())
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, apperrors.ErrAlreadyConnected):
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes.Load())
	assert.EqualValues(t, workers-1, duplicates.Load())
	assert.Len(t, reg.ListActive(), 1)
}

func TestCheckConnection(t *testing.T) {
	reg := newTestRegistry(t)

	count, err := reg.CheckConnection(context.Background(), "fakerel", testCreds())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// A transient check never registers a connection.
	assert.False(t, reg.IsConnected("", "fakerel"))

	_, err = reg.CheckConnection(context.Background(), "fakedown", testCreds())
	assert.ErrorIs(t, err, apperrors.ErrEngineUnreachable)
}
