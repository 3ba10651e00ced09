// Package schemacache caches introspected schemas per (user, database) with
// TTL, refreshed on demand or invalidated by change notifications.
// Snapshots are replaced whole; partial updates do not exist.
package schemacache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/easydata-inc/easydata-engine/pkg/engine"
)

// DefaultTTL is the snapshot lifetime when none is configured.
const DefaultTTL = 3600 * time.Second

// Snapshot is one cached introspection result.
type Snapshot struct {
	UserID    string                   `json:"user_id"`
	DBType    string                   `json:"db_type"`
	Tables    []engine.TableDescriptor `json:"tables"`
	FetchedAt time.Time                `json:"fetched_at"`
	TTL       time.Duration            `json:"ttl"`
}

// Expired reports whether the snapshot is past its TTL at the given time.
// Checked defensively on every read; the store's own expiry is not trusted
// to have fired.
func (s *Snapshot) Expired(now time.Time) bool {
	return now.After(s.FetchedAt.Add(s.TTL))
}

// TableNames returns the table names in snapshot order.
func (s *Snapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	return names
}

// HasTable reports whether the snapshot contains the named table.
func (s *Snapshot) HasTable(name string) bool {
	for _, t := range s.Tables {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Store persists snapshots keyed by (userID, dbType). Get returns
// (nil, nil) on a miss.
type Store interface {
	Get(ctx context.Context, userID, dbType string) (*Snapshot, error)
	Set(ctx context.Context, snapshot *Snapshot) error
	Delete(ctx context.Context, userID, dbType string) error
}

// Introspector is the slice of the connection registry the cache depends on.
type Introspector interface {
	IsConnected(userID, dbType string) bool
	Introspect(ctx context.Context, userID, dbType string) ([]engine.TableDescriptor, error)
}

// Cache serves schema snapshots with TTL semantics.
type Cache struct {
	store  Store
	source Introspector
	ttl    time.Duration
	logger *zap.Logger
}

// New creates a cache; ttl <= 0 falls back to DefaultTTL.
func New(store Store, source Introspector, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:  store,
		source: source,
		ttl:    ttl,
		logger: logger,
	}
}

// GetSchema returns the schema snapshot for (userID, dbType). A non-expired
// cached snapshot is served without touching the database unless
// forceRefresh is set. Introspection failures are surfaced, never masked
// with stale data.
func (c *Cache) GetSchema(ctx context.Context, userID, dbType string, forceRefresh bool) (*Snapshot, error) {
	if !forceRefresh {
		cached, err := c.store.Get(ctx, userID, dbType)
		if err != nil {
			// Store trouble degrades to introspection, not to failure.
			c.logger.Warn("schema store read failed",
				zap.String("userID", userID),
				zap.String("dbType", dbType),
				zap.Error(err),
			)
		} else if cached != nil && !cached.Expired(time.Now()) {
			return cached, nil
		}
	}

	return c.refresh(ctx, userID, dbType)
}

// refresh introspects and replaces the whole snapshot with a fresh TTL.
func (c *Cache) refresh(ctx context.Context, userID, dbType string) (*Snapshot, error) {
	tables, err := c.source.Introspect(ctx, userID, dbType)
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		UserID:    userID,
		DBType:    dbType,
		Tables:    tables,
		FetchedAt: time.Now(),
		TTL:       c.ttl,
	}

	if err := c.store.Set(ctx, snapshot); err != nil {
		// The snapshot is still good; only its caching failed.
		c.logger.Warn("schema store write failed",
			zap.String("userID", userID),
			zap.String("dbType", dbType),
			zap.Error(err),
		)
	}

	return snapshot, nil
}

// Invalidate removes any cached snapshot immediately; the next GetSchema is
// forced to re-introspect.
func (c *Cache) Invalidate(ctx context.Context, userID, dbType string) error {
	if err := c.store.Delete(ctx, userID, dbType); err != nil {
		return fmt.Errorf("invalidate schema for %s/%s: %w", userID, dbType, err)
	}
	return nil
}

// Prime populates the cache eagerly, best-effort. Used right after connect
// so the first query does not pay the introspection cost.
func (c *Cache) Prime(ctx context.Context, userID, dbType string) {
	if !c.source.IsConnected(userID, dbType) {
		return
	}
	if _, err := c.refresh(ctx, userID, dbType); err != nil {
		c.logger.Warn("eager schema population failed",
			zap.String("userID", userID),
			zap.String("dbType", dbType),
			zap.Error(err),
		)
	}
}

// marshalSnapshot/unmarshalSnapshot are shared by store implementations.
func marshalSnapshot(s *Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

func unmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
