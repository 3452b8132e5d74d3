// Package cache memoizes grouped-cost reads in Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lvonguyen/cloudspend/internal/aggregator"
)

// KeyPrefix namespaces every cached group result
const KeyPrefix = "cloudspend:groups:"

// DefaultTTL is used when no TTL is configured
const DefaultTTL = 60 * time.Second

// Client is the subset of *redis.Client the cache needs
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// GroupCache wraps a FactReader and serves repeated queries from Redis.
// Redis failures never fail a read; the inner reader answers instead.
type GroupCache struct {
	inner  aggregator.FactReader
	client Client
	ttl    time.Duration
	logger *zap.Logger
}

// New creates a new GroupCache
func New(inner aggregator.FactReader, client Client, ttl time.Duration, logger *zap.Logger) *GroupCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &GroupCache{inner: inner, client: client, ttl: ttl, logger: logger}
}

// GroupCosts implements aggregator.FactReader
func (c *GroupCache) GroupCosts(ctx context.Context, q aggregator.Query) ([]aggregator.GroupResult, error) {
	key, err := Key(q)
	if err != nil {
		return c.inner.GroupCosts(ctx, q)
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []aggregator.GroupResult
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
		c.logger.Warn("Discarding unreadable cache entry", zap.String("key", key))
	case err != redis.Nil:
		c.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
	}

	results, err := c.inner.GroupCosts(ctx, q)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(results); err == nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return results, nil
}

// Key derives the cache key for q
func Key(q aggregator.Query) (string, error) {
	b, err := json.Marshal(q)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return KeyPrefix + hex.EncodeToString(sum[:]), nil
}
