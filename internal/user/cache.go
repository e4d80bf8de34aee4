package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"zenmgt/internal/platform/metrics"
)

// DetailCache is a read-through cache for resolved current details. It is an
// optimization only: every method degrades to a miss on redis failure, and a
// nil *DetailCache is a valid always-miss cache.
//
// Invalidation runs after the mutating transaction commits. Writers that
// bypass the user service entirely are not invalidated; the TTL bounds how
// long such an entry can stay stale.
type DetailCache struct {
	client  *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewDetailCache(client *redis.Client, ttl time.Duration, logger *slog.Logger, m *metrics.Metrics) *DetailCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &DetailCache{client: client, ttl: ttl, logger: logger, metrics: m}
}

func detailKey(masterID uint64) string {
	return fmt.Sprintf("zenmgt:user:detail:%d", masterID)
}

// Get returns the cached current detail for the master, or nil on a miss.
func (c *DetailCache) Get(ctx context.Context, masterID uint64) *Detail {
	if c == nil || c.client == nil {
		return nil
	}

	raw, err := c.client.Get(ctx, detailKey(masterID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("detail cache read failed", "master_id", masterID, "error", err)
		}
		c.metrics.IncCacheMiss()
		return nil
	}

	var d Detail
	if err := json.Unmarshal(raw, &d); err != nil {
		c.logger.Warn("detail cache entry corrupt, dropping", "master_id", masterID, "error", err)
		c.metrics.IncCacheMiss()
		_ = c.client.Del(ctx, detailKey(masterID)).Err()
		return nil
	}

	c.metrics.IncCacheHit()
	return &d
}

// Set stores the current detail under the master's key.
func (c *DetailCache) Set(ctx context.Context, masterID uint64, d *Detail) {
	if c == nil || c.client == nil || d == nil {
		return
	}

	raw, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, detailKey(masterID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("detail cache write failed", "master_id", masterID, "error", err)
	}
}

// Invalidate drops the master's cached detail. Called whenever the active
// version pointer or record status changes.
func (c *DetailCache) Invalidate(ctx context.Context, masterID uint64) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, detailKey(masterID)).Err(); err != nil {
		c.logger.Warn("detail cache invalidation failed", "master_id", masterID, "error", err)
	}
}
