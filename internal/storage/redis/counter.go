// Package redis keeps the cart badge count cache and the shared rate limit
// counters in Redis.
package redis

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/agrimarket/internal/domain/cart"
)

var _ cart.Counter = (*CartCounter)(nil)

// versionTTL outlives any cached count so a version never resets while a
// count read under it could still be written.
const versionTTL = 24 * time.Hour

// setIfCurrent stores the count only while the caller's version is current.
var setIfCurrent = redis.NewScript(`
local v = tonumber(redis.call("GET", KEYS[1]) or "0")
if v ~= tonumber(ARGV[1]) then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

// CartCounter implements cart.Counter. Entries expire after a jittered TTL
// so a missed invalidation heals on its own. Each user has a version key
// bumped on invalidation; a count is written only under the version it was
// read with.
type CartCounter struct {
	client  redis.UniversalClient
	baseTTL time.Duration
}

// NewCartCounter returns a CartCounter. A zero ttl defaults to 10 minutes.
func NewCartCounter(client redis.UniversalClient, ttl time.Duration) *CartCounter {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CartCounter{client: client, baseTTL: ttl}
}

// Get returns the cached count and whether it was present.
func (c *CartCounter) Get(ctx context.Context, userID string) (int, bool, error) {
	v, err := c.client.Get(ctx, countKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get failed: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("parse cached count %q: %w", v, err)
	}
	return n, true, nil
}

// Version returns the current cache version for userID, zero when unset.
func (c *CartCounter) Version(ctx context.Context, userID string) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get version failed: %w", err)
	}
	return v, nil
}

// Set caches count for userID unless the version moved past version.
func (c *CartCounter) Set(ctx context.Context, userID string, count int, version int64) error {
	ttl := c.baseTTL + rand.N(c.baseTTL/5+1)
	keys := []string{versionKey(userID), countKey(userID)}
	if err := setIfCurrent.Run(ctx, c.client, keys, version, count, ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Invalidate drops the cached count for userID and bumps its version.
func (c *CartCounter) Invalidate(ctx context.Context, userID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(userID))
		pipe.Expire(ctx, versionKey(userID), versionTTL)
		pipe.Del(ctx, countKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate failed: %w", err)
	}
	return nil
}

// Ping checks that Redis is reachable.
func (c *CartCounter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Both keys of a user share a hash slot so the script runs on clusters.
func countKey(userID string) string {
	return "cart:{" + userID + "}:count"
}

func versionKey(userID string) string {
	return "cart:{" + userID + "}:version"
}
