package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tabsplit/billsync/interfaces"
)

var _ interfaces.KVStore = (*RedisBackend)(nil)

// RedisBackend implements a storage backend using Redis. Expiry uses
// Redis's native per-key TTL, so no sweep is needed.
type RedisBackend struct {
	client      *redis.Client
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewRedisBackend creates a new Redis storage backend and verifies the
// connection with a ping.
func NewRedisBackend(opts *redis.Options, prefix string, log *slog.Logger) (*RedisBackend, error) {
	if log == nil {
		log = slog.Default()
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: redis ping failed: %v", interfaces.ErrTransport, err)
	}

	return &RedisBackend{
		client:      client,
		prefix:      prefix,
		log:         log,
		locationURI: fmt.Sprintf("redis://%s/%d", opts.Addr, opts.DB),
	}, nil
}

// Get returns the value for key, or ErrNotFound once the TTL has elapsed.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("%w: redis get: %v", interfaces.ErrTransport, err)
	}
	return data, nil
}

// Set stores value under key with Redis-managed expiry.
func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl must be positive", interfaces.ErrValidation)
	}
	if err := b.client.Set(ctx, b.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %v", interfaces.ErrTransport, err)
	}
	return nil
}

// Del removes key. Absent keys are ignored.
func (b *RedisBackend) Del(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: redis del: %v", interfaces.ErrTransport, err)
	}
	return nil
}

// Exists reports whether key is present and unexpired.
func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, b.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: redis exists: %v", interfaces.ErrTransport, err)
	}
	return n > 0, nil
}

// Available reports whether Redis answers a ping.
func (b *RedisBackend) Available(ctx context.Context) bool {
	return b.client.Ping(ctx).Err() == nil
}

// Name returns the backend identifier for logging.
func (b *RedisBackend) Name() string { return "redis" }

// LocationURI returns the URI of this backend.
func (b *RedisBackend) LocationURI() string { return b.locationURI }

// Close releases the client's connection pool.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
