// Package cache keeps computed organization overviews in Redis. Redis is optional: a nil or
// unhealthy cache reports misses and the caller recomputes from the database. After maxFailures
// consecutive errors the cache stops calling Redis and lets one call through per retry window.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	keyOverview = "%s:org:%s:overview"

	defaultTTL    = time.Minute
	maxFailures   = 3
	retryInterval = 30 * time.Second
)

// Connect initializes a Redis client from URL or host:port input.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:         redisURL,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}), nil
}

// OverviewCache stores JSON overviews per organization with a TTL.
type OverviewCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger zerolog.Logger

	now      func() time.Time
	mu       sync.Mutex
	failures int
	retryAt  time.Time
}

// NewOverviewCache wraps client. A zero ttl uses one minute.
func NewOverviewCache(client *redis.Client, ttl time.Duration, prefix string, logger zerolog.Logger) *OverviewCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if prefix == "" {
		prefix = "streamwatcher"
	}
	return &OverviewCache{
		client: client,
		ttl:    ttl,
		prefix: prefix,
		logger: logger.With().Str("component", "overview_cache").Logger(),
		now:    time.Now,
	}
}

// Key returns the Redis key of an organization overview.
func (c *OverviewCache) Key(organizationID string) string {
	return fmt.Sprintf(keyOverview, c.prefix, organizationID)
}

// Healthy reports whether recent Redis calls succeeded.
func (c *OverviewCache) Healthy() bool {
	if c == nil || c.client == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures < maxFailures
}

// available reports whether Redis may be called now. While unhealthy only calls after retryAt pass,
// and each one pushes retryAt out again so a single call goes through per window.
func (c *OverviewCache) available() bool {
	if c == nil || c.client == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures < maxFailures {
		return true
	}
	now := c.now()
	if now.Before(c.retryAt) {
		return false
	}
	c.retryAt = now.Add(retryInterval)
	return true
}

// Get decodes the cached overview into dest and reports a hit.
func (c *OverviewCache) Get(ctx context.Context, organizationID string, dest any) bool {
	if !c.available() {
		return false
	}
	raw, err := c.client.Get(ctx, c.Key(organizationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.recordSuccess()
		return false
	}
	if err != nil {
		c.recordFailure(err, "get")
		return false
	}
	c.recordSuccess()
	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.Warn().Err(err).Str("organization_id", organizationID).Msg("discarding undecodable cached overview")
		return false
	}
	return true
}

// Set stores value for the configured TTL. Failures are logged and swallowed.
func (c *OverviewCache) Set(ctx context.Context, organizationID string, value any) {
	if !c.available() {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn().Err(err).Msg("encode overview for cache")
		return
	}
	if err := c.client.Set(ctx, c.Key(organizationID), raw, c.ttl).Err(); err != nil {
		c.recordFailure(err, "set")
		return
	}
	c.recordSuccess()
}

// Invalidate drops cached overviews, typically after new alerts were raised.
func (c *OverviewCache) Invalidate(ctx context.Context, organizationIDs ...string) {
	if len(organizationIDs) == 0 || !c.available() {
		return
	}
	keys := make([]string, 0, len(organizationIDs))
	for _, id := range organizationIDs {
		keys = append(keys, c.Key(id))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.recordFailure(err, "del")
		return
	}
	c.recordSuccess()
}

// Close releases the Redis client.
func (c *OverviewCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *OverviewCache) recordFailure(err error, op string) {
	c.mu.Lock()
	c.failures++
	n := c.failures
	if n >= maxFailures {
		c.retryAt = c.now().Add(retryInterval)
	}
	c.mu.Unlock()
	if n == maxFailures {
		c.logger.Warn().Err(err).Str("op", op).Msg("redis marked unhealthy; serving uncached overviews")
		return
	}
	c.logger.Debug().Err(err).Str("op", op).Msg("redis call failed")
}

func (c *OverviewCache) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures >= maxFailures {
		c.logger.Info().Msg("redis recovered")
	}
	c.failures = 0
}
