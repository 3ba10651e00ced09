package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/easydata-inc/easydata-engine/pkg/apperrors"
)

// fakeRegistry tracks disconnect calls for exactly-once verification.
type fakeRegistry struct {
	mu          sync.Mutex
	connected   map[string]bool
	disconnects atomic.Int32
}

func newFakeRegistry(keys ...string) *fakeRegistry {
	r := &fakeRegistry{connected: make(map[string]bool)}
	for _, k := range keys {
		r.connected[k] = true
	}
	return r
}

func (r *fakeRegistry) IsConnected(userID, dbType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected[userID+":"+dbType]
}

func (r *fakeRegistry) Disconnect(ctx context.Context, userID, dbType string) error {
	r.disconnects.Add(1)
	r.mu.Lock()
	delete(r.connected, userID+":"+dbType)
	r.mu.Unlock()
	return nil
}

func TestCreateSession_RequiresLiveConnection(t *testing.T) {
	mgr := NewManager(newFakeRegistry(), time.Minute, zap.NewNop())
	defer mgr.Stop()

	_, err := mgr.CreateSession("user-1", "postgres")
	assert.ErrorIs(t, err, apperrors.ErrNoActiveConnection)
}

func TestCreateSession_TokenProperties(t *testing.T) {
	mgr := NewManager(newFakeRegistry("user-1:postgres"), time.Minute, zap.NewNop())
	defer mgr.Stop()

	sess, err := mgr.CreateSession("user-1", "postgres")
	require.NoError(t, err)

	// 32 random bytes, hex encoded.
	assert.Len(t, sess.Token, 64)
	assert.Equal(t, time.Minute, sess.ExpiresAt.Sub(sess.CreatedAt))

	other, err := mgr.CreateSession("user-1", "postgres")
	require.NoError(t, err)
	assert.NotEqual(t, sess.Token, other.Token)
}

func TestGetSession(t *testing.T) {
	reg := newFakeRegistry("user-1:postgres")
	mgr := NewManager(reg, time.Minute, zap.NewNop())
	defer mgr.Stop()

	sess, err := mgr.CreateSession("user-1", "postgres")
	require.NoError(t, err)

	t.Run("owner sees the session", func(t *testing.T) {
		assert.NotNil(t, mgr.GetSession("user-1", sess.Token))
	})

	t.Run("unknown token is nil", func(t *testing.T) {
		assert.Nil(t, mgr.GetSession("user-1", "no-such-token"))
	})

	t.Run("cross-user read is nil, not an error", func(t *testing.T) {
		assert.Nil(t, mgr.GetSession("user-2", sess.Token))
	})

	t.Run("backing connection gone means nil", func(t *testing.T) {
		reg.mu.Lock()
		delete(reg.connected, "user-1:postgres")
		reg.mu.Unlock()
		assert.Nil(t, mgr.GetSession("user-1", sess.Token))
	})
}

func TestGetSession_ExpiryBoundary(t *testing.T) {
	reg := newFakeRegistry("user-1:postgres")
	mgr := NewManager(reg, 30*time.Minute, zap.NewNop())
	defer mgr.Stop()

	base := time.Now()
	mgr.now = func() time.Time { return base }

	sess, err := mgr.CreateSession("user-1", "postgres")
	require.NoError(t, err)

	// One minute before the deadline the session reads fine.
	mgr.now = func() time.Time { return base.Add(29 * time.Minute) }
	assert.NotNil(t, mgr.GetSession("user-1", sess.Token))

	// At and past the deadline the read path refuses it even though the
	// timer has not fired yet.
	mgr.now = func() time.Time { return base.Add(30 * time.Minute) }
	assert.Nil(t, mgr.GetSession("user-1", sess.Token))

	mgr.now = func() time.Time { return base.Add(31 * time.Minute) }
	assert.Nil(t, mgr.GetSession("user-1", sess.Token))
}

func TestDestroySession_DisconnectsBackingConnection(t *testing.T) {
	reg := newFakeRegistry("user-1:postgres")
	mgr := NewManager(reg, time.Minute, zap.NewNop())
	defer mgr.Stop()

	sess, err := mgr.CreateSession("user-1", "postgres")
	require.NoError(t, err)

	mgr.DestroySession(context.Background(), sess.Token)
	assert.EqualValues(t, 1, reg.disconnects.Load())
	assert.Nil(t, mgr.GetSession("user-1", sess.Token))
	assert.Equal(t, 0, mgr.ActiveCount())

	// Destroying again is a no-op, not a second disconnect.
	mgr.DestroySession(context.Background(), sess.Token)
	assert.EqualValues(t, 1, reg.disconnects.Load())
}

func TestExpiry_DisconnectsExactlyOnce(t *testing.T) {
	reg := newFakeRegistry("user-1:postgres")
	mgr := NewManager(reg, 20*time.Millisecond, zap.NewNop())
	defer mgr.Stop()

	sess, err := mgr.CreateSession("user-1", "postgres")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return reg.disconnects.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// An explicit destroy after expiry must not disconnect again.
	mgr.DestroySession(context.Background(), sess.Token)
	assert.EqualValues(t, 1, reg.disconnects.Load())
}

func TestDestroyRacingExpiry_SingleDisconnect(t *testing.T) {
	reg := newFakeRegistry("user-1:postgres")
	mgr := NewManager(reg, 10*time.Millisecond, zap.NewNop())
	defer mgr.Stop()

	sess, err := mgr.CreateSession("user-1", "postgres")
	require.NoError(t, err)

	// Race the timer with an explicit destroy; the claim funnel guarantees
	// a single winner.
	mgr.DestroySession(context.Background(), sess.Token)
	time.Sleep(50 * time.Millisecond)

	assert.EqualValues(t, 1, reg.disconnects.Load())
}

func TestStop_CancelsTimersWithoutDisconnecting(t *testing.T) {
	reg := newFakeRegistry("user-1:postgres")
	mgr := NewManager(reg, 20*time.Millisecond, zap.NewNop())

	_, err := mgr.CreateSession("user-1", "postgres")
	require.NoError(t, err)

	mgr.Stop()
	time.Sleep(60 * time.Millisecond)

	// Shutdown drain belongs to the registry, not the session timers.
	assert.EqualValues(t, 0, reg.disconnects.Load())
	assert.Equal(t, 0, mgr.ActiveCount())
}
