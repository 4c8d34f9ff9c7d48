package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrNotFound is returned by Tier2 implementations on a cache miss.
var ErrNotFound = errors.New("cache: not found")

// Tier2 is the optional second-tier key-value contract from SPEC_FULL.md
// §4.7. Tier-2 unavailability must never fail a caller — RedisTier2's
// methods convert connection errors into ErrNotFound-shaped misses at the
// MultiLevel layer, not here, so this interface stays a faithful mirror of
// the real backend.
type Tier2 interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

// RedisTier2 is a Tier2 backed by go-redis, matching the teacher's
// internal/cache/cache.go RedisCache implementation.
type RedisTier2 struct {
	client *redis.Client
}

// NewRedisTier2 dials addr (host:port) with the given password/db.
func NewRedisTier2(addr, password string, db int) *RedisTier2 {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisTier2{client: client}
}

func (r *RedisTier2) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (r *RedisTier2) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisTier2) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisTier2) Keys(ctx context.Context, pattern string) ([]string, error) {
	return r.client.Keys(ctx, pattern).Result()
}

func (r *RedisTier2) Close() error {
	return r.client.Close()
}
