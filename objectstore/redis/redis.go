// Package redis provides a Redis-backed implementation of the objectstore
// interface. It is the backend to reach for when the service runs with more
// than one replica, since staged payloads become visible to every instance.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/prontolink/prontolink/objectstore"
)

// Config for the Redis-backed store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: OBJECTSTORE_KEY_PREFIX
	KeyPrefix string `env:"OBJECTSTORE_KEY_PREFIX,default=prontolink:objects:"`
}

// Store implements objectstore.Store on Redis.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// storedItem is the JSON envelope persisted in Redis.
type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New creates a Redis-backed store and verifies connectivity.
func New(cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "prontolink:objects:"
	}
	return &Store{client: cl, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding redis config: %w", err)
	}
	return New(cfg)
}

func (s *Store) Put(ctx context.Context, key string, data []byte, opts ...objectstore.Option) error {
	options := &objectstore.Options{}
	for _, opt := range opts {
		opt(options)
	}

	now := time.Now()
	item := storedItem{Data: data, CreatedAt: now}

	var redisTTL time.Duration
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
		redisTTL = *options.TTL
	}

	b, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal stored item: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), b, redisTTL).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (*objectstore.Item, error) {
	res := s.client.Get(ctx, s.key(key))
	return s.decode(ctx, key, res)
}

// GetDelete uses Redis GETDEL so the read and the removal are one atomic
// command; no two callers can observe the same payload.
func (s *Store) GetDelete(ctx context.Context, key string) (*objectstore.Item, error) {
	res := s.client.GetDel(ctx, s.key(key))
	return s.decode(ctx, key, res)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(key string) string { return s.keyPrefix + key }

func (s *Store) decode(ctx context.Context, key string, res *redis.StringCmd) (*objectstore.Item, error) {
	if err := res.Err(); err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	var item storedItem
	if err := json.Unmarshal([]byte(res.Val()), &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}

	out := &objectstore.Item{
		Data:      item.Data,
		CreatedAt: item.CreatedAt,
		ExpiresAt: item.ExpiresAt,
	}
	// Redis expires the key itself, but the envelope's deadline is the
	// authority when clocks disagree.
	if out.IsExpired() {
		s.client.Del(ctx, s.key(key))
		return nil, nil
	}
	return out, nil
}

var _ objectstore.Store = (*Store)(nil)
