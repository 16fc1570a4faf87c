// Package cache holds the read-through cache for issued QR artifacts. Artifacts
// are written once per batch, so entries never need invalidation.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"coffee-trace-api-server/config"
	"coffee-trace-api-server/internal/models"
)

const DefaultKeyPrefix = "coffee:qr:"

// RedisCache stores artifacts keyed by batch code. Codes are never reused,
// unlike surrogate ids which restart with a fresh store.
type RedisCache struct {
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache dials Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg config.RedisConfig) (*RedisCache, error) {
	if cfg.Addr == "" {
		return nil, errors.New("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewFromClient(rdb, cfg.KeyPrefix, cfg.TTL), nil
}

// NewFromClient wraps an existing client. An empty prefix falls back to
// DefaultKeyPrefix and a zero ttl keeps entries forever.
func NewFromClient(rdb *goredis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(batchCode string) string {
	return c.prefix + batchCode
}

// Get returns the cached artifact for batchCode and whether it was present.
// An entry recorded under a different code is treated as a miss.
func (c *RedisCache) Get(ctx context.Context, batchCode string) (*models.QRArtifact, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(batchCode)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var art models.QRArtifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, false, fmt.Errorf("decode cached artifact: %w", err)
	}
	if art.BatchCode != batchCode {
		return nil, false, nil
	}
	return &art, true, nil
}

// Set records art unless an entry already exists.
func (c *RedisCache) Set(ctx context.Context, art *models.QRArtifact) error {
	if art.BatchCode == "" {
		return errors.New("artifact has no batch code")
	}
	raw, err := json.Marshal(art)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := c.rdb.SetNX(ctx, c.key(art.BatchCode), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
