package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTLs for the registration API's read-through caches.
const (
	ListTTL  = 300 * time.Second
	DetailTTL = 300 * time.Second
	TypesTTL = 300 * time.Second
)

// ReadThroughCache wraps Redis get/set for arbitrary JSON-serializable
// values, logging and ignoring cache errors rather than failing the
// request — cache availability is never load-bearing for correctness.
type ReadThroughCache struct {
	redis  *redis.Client
	logger *slog.Logger
}

func NewReadThroughCache(rdb *redis.Client, logger *slog.Logger) *ReadThroughCache {
	return &ReadThroughCache{redis: rdb, logger: logger}
}

func ListKey(sessionID string, offset, limit int, typeID *int, hasDeliveryPrice bool) string {
	typePart := "any"
	if typeID != nil {
		typePart = fmt.Sprintf("%d", *typeID)
	}
	return fmt.Sprintf("cache:parcels:%s:offset=%d:limit=%d:type=%s:has_price=%t", sessionID, offset, limit, typePart, hasDeliveryPrice)
}

func DetailKey(sessionID, parcelID string) string {
	return fmt.Sprintf("cache:parcels:%s:%s", sessionID, parcelID)
}

func TypesKey() string {
	return "cache:parcel_types:all"
}

// Get decodes a cached value into dst and reports whether it was
// found. A Redis or decode error is logged here and reported as a
// miss (false), so the caller only ever sees found or not found.
func (c *ReadThroughCache) Get(ctx context.Context, key string, dst any) bool {
	raw, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		c.logger.Warn("cache value corrupt, ignoring", "key", key, "error", err)
		return false
	}
	return true
}

func (c *ReadThroughCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.redis.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}
