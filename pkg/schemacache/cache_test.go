package schemacache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/easydata-inc/easydata-engine/pkg/engine"
)

// memStore is an in-memory Store with injectable failures.
type memStore struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot
	getErr    error
	setErr    error
}

func newMemStore() *memStore {
	return &memStore{snapshots: make(map[string]*Snapshot)}
}

func (s *memStore) Get(ctx context.Context, userID, dbType string) (*Snapshot, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots[userID+":"+dbType], nil
}

func (s *memStore) Set(ctx context.Context, snapshot *Snapshot) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.UserID+":"+snapshot.DBType] = snapshot
	return nil
}

func (s *memStore) Delete(ctx context.Context, userID, dbType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, userID+":"+dbType)
	return nil
}

// fakeIntrospector counts introspections.
type fakeIntrospector struct {
	mu        sync.Mutex
	connected bool
	calls     int
	err       error
	tables    []engine.TableDescriptor
}

func (f *fakeIntrospector) IsConnected(userID, dbType string) bool { return f.connected }

func (f *fakeIntrospector) Introspect(ctx context.Context, userID, dbType string) ([]engine.TableDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.tables, nil
}

func (f *fakeIntrospector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func twoTables() []engine.TableDescriptor {
	return []engine.TableDescriptor{
		{Name: "orders", Columns: []engine.ColumnDescriptor{{Name: "id", DataType: "uuid"}}},
		{Name: "users"},
	}
}

func TestGetSchema_CachesIntrospection(t *testing.T) {
	store := newMemStore()
	source := &fakeIntrospector{connected: true, tables: twoTables()}
	cache := New(store, source, time.Hour, zap.NewNop())

	first, err := cache.GetSchema(context.Background(), "user-1", "postgres", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, first.TableNames())
	assert.Equal(t, 1, source.callCount())

	// Second read is served from the store.
	_, err = cache.GetSchema(context.Background(), "user-1", "postgres", false)
	require.NoError(t, err)
	assert.Equal(t, 1, source.callCount())
}

func TestGetSchema_ForceRefresh(t *testing.T) {
	store := newMemStore()
	source := &fakeIntrospector{connected: true, tables: twoTables()}
	cache := New(store, source, time.Hour, zap.NewNop())

	_, err := cache.GetSchema(context.Background(), "user-1", "postgres", false)
	require.NoError(t, err)
	_, err = cache.GetSchema(context.Background(), "user-1", "postgres", true)
	require.NoError(t, err)
	assert.Equal(t, 2, source.callCount())
}

func TestGetSchema_ExpiredSnapshotTriggersRefresh(t *testing.T) {
	store := newMemStore()
	source := &fakeIntrospector{connected: true, tables: twoTables()}
	cache := New(store, source, time.Hour, zap.NewNop())

	// Seed an already-expired snapshot; the read must not serve it even
	// though the store still returned it.
	require.NoError(t, store.Set(context.Background(), &Snapshot{
		UserID:    "user-1",
		DBType:    "postgres",
		Tables:    []engine.TableDescriptor{{Name: "stale"}},
		FetchedAt: time.Now().Add(-2 * time.Hour),
		TTL:       time.Hour,
	}))

	snapshot, err := cache.GetSchema(context.Background(), "user-1", "postgres", false)
	require.NoError(t, err)
	assert.False(t, snapshot.HasTable("stale"))
	assert.Equal(t, 1, source.callCount())
}

func TestGetSchema_StoreReadFailureDegradesToIntrospection(t *testing.T) {
	store := newMemStore()
	store.getErr = errors.New("redis down")
	source := &fakeIntrospector{connected: true, tables: twoTables()}
	cache := New(store, source, time.Hour, zap.NewNop())

	snapshot, err := cache.GetSchema(context.Background(), "user-1", "postgres", false)
	require.NoError(t, err)
	assert.Len(t, snapshot.Tables, 2)
}

func TestGetSchema_StoreWriteFailureStillReturnsSnapshot(t *testing.T) {
	store := newMemStore()
	store.setErr = errors.New("redis down")
	source := &fakeIntrospector{connected: true, tables: twoTables()}
	cache := New(store, source, time.Hour, zap.NewNop())

	snapshot, err := cache.GetSchema(context.Background(), "user-1", "postgres", false)
	require.NoError(t, err)
	assert.Len(t, snapshot.Tables, 2)
}

func TestGetSchema_IntrospectionFailureSurfaced(t *testing.T) {
	store := newMemStore()
	source := &fakeIntrospector{connected: true, err: errors.New("introspection failed")}
	cache := New(store, source, time.Hour, zap.NewNop())

	_, err := cache.GetSchema(context.Background(), "user-1", "postgres", false)
	assert.Error(t, err)
}

func TestInvalidate_ForcesReintrospection(t *testing.T) {
	store := newMemStore()
	source := &fakeIntrospector{connected: true, tables: twoTables()}
	cache := New(store, source, time.Hour, zap.NewNop())

	_, err := cache.GetSchema(context.Background(), "user-1", "postgres", false)
	require.NoError(t, err)

	require.NoError(t, cache.Invalidate(context.Background(), "user-1", "postgres"))

	_, err = cache.GetSchema(context.Background(), "user-1", "postgres", false)
	require.NoError(t, err)
	assert.Equal(t, 2, source.callCount())
}

func TestPrime(t *testing.T) {
	t.Run("populates when connected", func(t *testing.T) {
		store := newMemStore()
		source := &fakeIntrospector{connected: true, tables: twoTables()}
		cache := New(store, source, time.Hour, zap.NewNop())

		cache.Prime(context.Background(), "user-1", "postgres")
		assert.Equal(t, 1, source.callCount())

		// The primed snapshot is served without another introspection.
		_, err := cache.GetSchema(context.Background(), "user-1", "postgres", false)
		require.NoError(t, err)
		assert.Equal(t, 1, source.callCount())
	})

	t.Run("no-op without a live connection", func(t *testing.T) {
		source := &fakeIntrospector{connected: false, tables: twoTables()}
		cache := New(newMemStore(), source, time.Hour, zap.NewNop())

		cache.Prime(context.Background(), "user-1", "postgres")
		assert.Equal(t, 0, source.callCount())
	})
}

func TestSnapshotExpired(t *testing.T) {
	snapshot := &Snapshot{FetchedAt: time.Now(), TTL: time.Hour}
	assert.False(t, snapshot.Expired(time.Now()))
	assert.False(t, snapshot.Expired(snapshot.FetchedAt.Add(59*time.Minute)))
	assert.True(t, snapshot.Expired(snapshot.FetchedAt.Add(61*time.Minute)))
}
