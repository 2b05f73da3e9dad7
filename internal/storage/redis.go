package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces token keys
const DefaultRedisPrefix = "randmedia:"

// RedisStore is a Redis-based implementation of MappingStore.
// Expiry is delegated to key TTLs, so Prune has nothing to do.
type RedisStore struct {
	client   *redis.Client
	ttl      time.Duration
	prefix   string
	now      func() time.Time
	generate Generator
}

// RedisOptions holds connection settings for NewRedisStore
type RedisOptions struct {
	Address  string
	Password string //#nosec G117 -- Password field is intentional for Redis auth config
	DB       int
	Prefix   string
}

// NewRedisStore creates a new Redis-based mapping store
func NewRedisStore(ro RedisOptions, ttl time.Duration, opts ...Option) (*RedisStore, error) {
	o := buildOptions(opts)
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ro.Prefix == "" {
		ro.Prefix = DefaultRedisPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     ro.Address,
		Password: ro.Password,
		DB:       ro.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client:   client,
		ttl:      ttl,
		prefix:   ro.Prefix,
		now:      o.now,
		generate: o.generate,
	}, nil
}

func (r *RedisStore) key(tok string) string {
	return r.prefix + "t:" + tok
}

// Add stores path under a fresh token; SET overwrites on collision
func (r *RedisStore) Add(path string) (string, error) {
	tok := r.generate(path, r.now())
	if err := r.client.Set(context.Background(), r.key(tok), path, r.ttl).Err(); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return tok, nil
}

// Resolve retrieves the mapping for a live token
func (r *RedisStore) Resolve(tok string) (Mapping, bool) {
	ctx := context.Background()
	key := r.key(tok)

	path, err := r.client.Get(ctx, key).Result()
	if err != nil {
		// redis.Nil and transport errors both read as absent
		return Mapping{}, false
	}

	remaining, err := r.client.PTTL(ctx, key).Result()
	if err != nil || remaining <= 0 {
		return Mapping{}, false
	}

	return Mapping{Path: path, ExpiresAt: r.now().Add(remaining)}, true
}

// Prune is a no-op for Redis as TTL handles expiration
func (r *RedisStore) Prune() (int, error) {
	return 0, nil
}

// Size returns the approximate number of stored mappings
func (r *RedisStore) Size() int {
	ctx := context.Background()
	count := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"t:*", 256).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil && !errors.Is(err, redis.Nil) {
		return 0
	}
	return count
}

// Ping checks the Redis connection
func (r *RedisStore) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}
