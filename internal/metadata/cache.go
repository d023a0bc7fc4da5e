package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheTTL = 5 * time.Minute

// Cache is a best-effort read-through cache for metadata lookups. A nil
// *Cache is valid and misses everything, so Redis stays optional.
type Cache struct {
	client *redis.Client
	logger *zap.Logger
}

func NewCache(redisURL string, logger *zap.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client, logger: logger}, nil
}

func (c *Cache) Get(ctx context.Context, sessionID uuid.UUID) *SessionMetadata {
	if c == nil {
		return nil
	}

	data, err := c.client.Get(ctx, cacheKey(sessionID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("metadata cache read failed", zap.Error(err))
		}
		return nil
	}

	var m SessionMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		c.logger.Debug("metadata cache entry corrupt", zap.Error(err))
		c.Invalidate(ctx, sessionID)
		return nil
	}
	return &m
}

func (c *Cache) Set(ctx context.Context, m *SessionMetadata) {
	if c == nil || m == nil {
		return
	}

	data, err := json.Marshal(m)
	if err != nil {
		c.logger.Debug("failed to marshal metadata for cache", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, cacheKey(m.SessionID), data, cacheTTL).Err(); err != nil {
		c.logger.Debug("metadata cache write failed", zap.Error(err))
	}
}

func (c *Cache) Invalidate(ctx context.Context, sessionID uuid.UUID) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, cacheKey(sessionID)).Err(); err != nil {
		c.logger.Debug("metadata cache invalidation failed", zap.Error(err))
	}
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func cacheKey(sessionID uuid.UUID) string {
	return "session_meta:" + sessionID.String()
}
