package schemacache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists snapshots in Redis under "schema:{userID}:{dbType}"
// with a TTL slightly above the snapshot TTL, so the defensive Expired
// check on read is the authority and Redis expiry is just garbage
// collection.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store; ttl <= 0 falls back to DefaultTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func schemaKey(userID, dbType string) string {
	return fmt.Sprintf("schema:%s:%s", userID, dbType)
}

func (s *RedisStore) Get(ctx context.Context, userID, dbType string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, schemaKey(userID, dbType)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return unmarshalSnapshot(data)
}

func (s *RedisStore) Set(ctx context.Context, snapshot *Snapshot) error {
	data, err := marshalSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	key := schemaKey(snapshot.UserID, snapshot.DBType)
	if err := s.client.Set(ctx, key, data, s.ttl+time.Minute).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID, dbType string) error {
	if err := s.client.Del(ctx, schemaKey(userID, dbType)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ensure RedisStore implements Store at compile time.
var _ Store = (*RedisStore)(nil)
