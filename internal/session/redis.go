package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tasknerd/internal/config"
	"tasknerd/internal/logging"
	"tasknerd/internal/types"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a KeyedStore backed by Redis, for deployments where several
// resolver processes share sessions or sessions must survive restarts. Records are
// stored as JSON with a Redis TTL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. prefix namespaces every key.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedis connects to the configured server and verifies it with PING.
func DialRedis(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	logging.Session("Connected to Redis session store at %s (db=%d)", cfg.Addr, cfg.DB)
	return NewRedisStore(client, cfg.KeyPrefix), nil
}

func (r *RedisStore) key(k Key) string {
	return r.prefix + k.String()
}

// Get loads the record for key.
func (r *RedisStore) Get(ctx context.Context, key Key) (*types.PendingIntent, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var p types.PendingIntent
	if err := json.Unmarshal(data, &p); err != nil {
		// A record we cannot decode is as good as absent; drop it.
		logging.SessionWarn("Dropping undecodable session record %s: %v", key, err)
		_ = r.client.Del(ctx, r.key(key)).Err()
		return nil, ErrNotFound
	}
	return &p, nil
}

// Set stores p under key with the given storage lifetime.
func (r *RedisStore) Set(ctx context.Context, key Key, p *types.PendingIntent, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (r *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Ping checks that Redis is reachable.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
