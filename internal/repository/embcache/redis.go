package embcache

import (
	"context"
	"time"
)

// kvStore is the subset of db.KVStore the Redis cache needs (ISP).
type kvStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisStore adapts a key-value database to the cache store, applying a fixed TTL.
type RedisStore struct {
	kv  kvStore
	ttl time.Duration
}

// NewRedisStore creates a Redis-backed cache store. ttl <= 0 keeps entries forever.
func NewRedisStore(kv kvStore, ttl time.Duration) *RedisStore {
	return &RedisStore{kv: kv, ttl: ttl}
}

// Get returns the cached value or db.ErrKeyNotFound.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	return r.kv.Get(ctx, key)
}

// Set stores value with the configured TTL.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return r.kv.SetWithTTL(ctx, key, value, r.ttl)
}
