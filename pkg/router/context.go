package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultContextTTL matches the short-term memory window of the original
// assistant: context older than this is forgotten.
const DefaultContextTTL = 600 * time.Second

// QueryLogEntry records one routed query for usage-frequency scoring.
type QueryLogEntry struct {
	DBID      uuid.UUID `json:"db_id"`
	Timestamp time.Time `json:"timestamp"`
}

// DatabaseContext is a user's routing state: the current database pointer
// and a bounded recent-query log. Stale entries expire via the store TTL;
// contexts are never explicitly deleted by the router itself.
type DatabaseContext struct {
	CurrentDBID    *uuid.UUID      `json:"current_db_id,omitempty"`
	LastSwitchTime time.Time       `json:"last_switch_time"`
	RecentQueries  []QueryLogEntry `json:"recent_queries"`
}

// useCount returns how many recent-log entries reference dbID.
func (c *DatabaseContext) useCount(dbID uuid.UUID) int {
	count := 0
	for _, entry := range c.RecentQueries {
		if entry.DBID == dbID {
			count++
		}
	}
	return count
}

// lastUsed returns the most recent log timestamp for dbID, or the zero time.
func (c *DatabaseContext) lastUsed(dbID uuid.UUID) time.Time {
	var latest time.Time
	for _, entry := range c.RecentQueries {
		if entry.DBID == dbID && entry.Timestamp.After(latest) {
			latest = entry.Timestamp
		}
	}
	return latest
}

// ContextStore persists per-user routing context. Get returns (nil, nil)
// on a miss.
type ContextStore interface {
	Get(ctx context.Context, userID string) (*DatabaseContext, error)
	Set(ctx context.Context, userID string, dbCtx *DatabaseContext) error
	Clear(ctx context.Context, userID string) error
}

// RedisContextStore keeps contexts in Redis under "user:{id}:context" with
// a sliding TTL: every write restarts the expiry window.
type RedisContextStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisContextStore creates a store; ttl <= 0 falls back to DefaultContextTTL.
func NewRedisContextStore(client *redis.Client, ttl time.Duration) *RedisContextStore {
	if ttl <= 0 {
		ttl = DefaultContextTTL
	}
	return &RedisContextStore{client: client, ttl: ttl}
}

func contextKey(userID string) string {
	return fmt.Sprintf("user:%s:context", userID)
}

func (s *RedisContextStore) Get(ctx context.Context, userID string) (*DatabaseContext, error) {
	data, err := s.client.Get(ctx, contextKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get context: %w", err)
	}

	var dbCtx DatabaseContext
	if err := json.Unmarshal(data, &dbCtx); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	return &dbCtx, nil
}

func (s *RedisContextStore) Set(ctx context.Context, userID string, dbCtx *DatabaseContext) error {
	data, err := json.Marshal(dbCtx)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	if err := s.client.Set(ctx, contextKey(userID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set context: %w", err)
	}
	return nil
}

func (s *RedisContextStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, contextKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis clear context: %w", err)
	}
	return nil
}

// Ensure RedisContextStore implements ContextStore at compile time.
var _ ContextStore = (*RedisContextStore)(nil)
