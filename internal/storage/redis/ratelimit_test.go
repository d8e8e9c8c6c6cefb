package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitCounter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := NewRateLimitCounter(client)
	ctx := context.Background()

	window := time.Minute
	start := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)

	for i := range 3 {
		curr, prev, err := c.Incr(ctx, "X-API-Key:k1", start, window)
		require.NoError(t, err)
		assert.EqualValues(t, i+1, curr)
		assert.Zero(t, prev)
	}
	assert.Equal(t, 2*window, mr.TTL(rateLimitKey("X-API-Key:k1", start)))

	// Keys are independent.
	curr, _, err := c.Incr(ctx, "10.0.0.1", start, window)
	require.NoError(t, err)
	assert.EqualValues(t, 1, curr)

	// The next window sees the previous count.
	curr, prev, err := c.Incr(ctx, "X-API-Key:k1", start.Add(window), window)
	require.NoError(t, err)
	assert.EqualValues(t, 1, curr)
	assert.EqualValues(t, 3, prev)

	mr.FastForward(3 * window)
	curr, prev, err = c.Incr(ctx, "X-API-Key:k1", start.Add(2*window), window)
	require.NoError(t, err)
	assert.EqualValues(t, 1, curr)
	assert.Zero(t, prev)
}

func TestRateLimitCounter_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	c := NewRateLimitCounter(client)

	mr.Close()
	_, _, err := c.Incr(context.Background(), "k", time.Now().Truncate(time.Minute), time.Minute)
	require.Error(t, err)
}
