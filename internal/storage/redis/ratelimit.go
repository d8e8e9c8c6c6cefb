package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/agrimarket/pkg/httpmiddleware"
)

var _ httpmiddleware.Counter = (*RateLimitCounter)(nil)

// RateLimitCounter implements httpmiddleware.Counter with one key per client
// and window, so every API replica enforces the same limit.
type RateLimitCounter struct {
	client redis.UniversalClient
}

// NewRateLimitCounter returns a RateLimitCounter.
func NewRateLimitCounter(client redis.UniversalClient) *RateLimitCounter {
	return &RateLimitCounter{client: client}
}

// Incr implements httpmiddleware.Counter. Window keys live for two windows,
// long enough to serve as the previous window of the next one.
func (c *RateLimitCounter) Incr(ctx context.Context, key string, start time.Time, window time.Duration) (curr, prev int64, err error) {
	currKey := rateLimitKey(key, start)
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, currKey)
	pipe.Expire(ctx, currKey, 2*window)
	before := pipe.Get(ctx, rateLimitKey(key, start.Add(-window)))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, errors.Wrap(err, "redis rate limit pipeline")
	}

	prev, err = before.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, errors.Wrap(err, "parse previous window count")
	}
	return incr.Val(), prev, nil
}

func rateLimitKey(key string, start time.Time) string {
	return "ratelimit:" + key + ":" + strconv.FormatInt(start.Unix(), 10)
}
