package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store using redis.
type RedisStore struct {
	kvStore
	client *redis.Client
}

// NewRedisStore creates a RedisStore for addr (host:port) and database db.
// timeout bounds dial, read and write; zero keeps the go-redis defaults.
func NewRedisStore(addr string, db int, timeout time.Duration) (*RedisStore, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	opts := &redis.Options{Addr: addr, DB: db}
	if timeout > 0 {
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
	}
	return newRedisStore(redis.NewClient(opts)), nil
}

func newRedisStore(client *redis.Client) *RedisStore {
	s := &RedisStore{client: client}
	s.kvStore = kvStore{backend: redisBackend{client: client}}
	return s
}

// Close closes the redis connection pool. Call during shutdown.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisBackend struct {
	client *redis.Client
}

func (b redisBackend) get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := b.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return raw, true, nil
}

func (b redisBackend) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b redisBackend) del(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

func (b redisBackend) ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
