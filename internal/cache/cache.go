// Package cache provides the shared Redis-backed coordination store used by
// the circuit breaker, search cache, job guards, and active-job accounting.
//
// Every operation is best-effort: backend failures are logged and swallowed,
// reads fall back to zero values. The cache is an optimization and a
// coordination substrate, never a system of record, so it must not surface
// errors that would abort a caller's business logic.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store is the coordination-store contract. Implementations must make
// Increment atomic at the storage layer; plain Get/Set pairs are accepted as
// best-effort and may lose racing updates.
type Store interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Increment(ctx context.Context, key string, ttl time.Duration) int64
	Exists(ctx context.Context, key string) bool

	ZAdd(ctx context.Context, setKey string, score float64, member string, ttl time.Duration)
	ZRem(ctx context.Context, setKey, member string)
	ZCard(ctx context.Context, setKey string) int64
}

// RedisStore implements Store over a go-redis client.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisClient dials Redis at addr. The connection is verified lazily; a
// down backend degrades every cache operation rather than failing startup.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Get returns the value for key and whether it was present.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("cache: get failed", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return val, true
}

// Set stores value under key. A zero ttl means no expiry.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		zap.L().Warn("cache: set failed", zap.String("key", key), zap.Error(err))
	}
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		zap.L().Warn("cache: delete failed", zap.String("key", key), zap.Error(err))
	}
}

// Increment atomically increments the counter at key and applies ttl when
// given. Returns 0 on backend failure, which callers must treat as "no
// information" rather than a zero count.
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) int64 {
	val, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		zap.L().Warn("cache: increment failed", zap.String("key", key), zap.Error(err))
		return 0
	}
	if ttl > 0 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			zap.L().Warn("cache: expire failed", zap.String("key", key), zap.Error(err))
		}
	}
	return val
}

// Exists reports whether key is present.
func (s *RedisStore) Exists(ctx context.Context, key string) bool {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		zap.L().Warn("cache: exists failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return n == 1
}

// ZAdd adds member to the sorted set with the given score.
func (s *RedisStore) ZAdd(ctx context.Context, setKey string, score float64, member string, ttl time.Duration) {
	if err := s.client.ZAdd(ctx, setKey, redis.Z{Score: score, Member: member}).Err(); err != nil {
		zap.L().Warn("cache: zadd failed", zap.String("key", setKey), zap.Error(err))
		return
	}
	if ttl > 0 {
		if err := s.client.Expire(ctx, setKey, ttl).Err(); err != nil {
			zap.L().Warn("cache: expire failed", zap.String("key", setKey), zap.Error(err))
		}
	}
}

// ZRem removes member from the sorted set.
func (s *RedisStore) ZRem(ctx context.Context, setKey, member string) {
	if err := s.client.ZRem(ctx, setKey, member).Err(); err != nil {
		zap.L().Warn("cache: zrem failed", zap.String("key", setKey), zap.Error(err))
	}
}

// ZCard returns the sorted set's cardinality, 0 on failure.
func (s *RedisStore) ZCard(ctx context.Context, setKey string) int64 {
	n, err := s.client.ZCard(ctx, setKey).Result()
	if err != nil {
		zap.L().Warn("cache: zcard failed", zap.String("key", setKey), zap.Error(err))
		return 0
	}
	return n
}
