package httpmiddleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Counter stores hit counts per key in fixed windows. Incr adds one hit to
// the window beginning at start and returns the count of that window and of
// the window right before it.
type Counter interface {
	Incr(ctx context.Context, key string, start time.Time, window time.Duration) (curr, prev int64, err error)
}

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// KeyFunc defaults to the client IP.
	KeyFunc func(*http.Request) string
	// Skip exempts matching requests, such as gateway webhooks.
	Skip func(*http.Request) bool
	// Counter defaults to a process-local MemoryCounter. A shared counter
	// keeps the limit across replicas.
	Counter Counter
}

// HeaderKeyFunc keys requests by the given header, falling back to the client
// IP when the header is missing. Values are prefixed so they never collide
// with IP keys.
func HeaderKeyFunc(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		if v := r.Header.Get(header); v != "" {
			return header + ":" + v
		}
		return clientIP(r)
	}
}

// PathPrefixSkip skips rate limiting for paths under any of prefixes.
func PathPrefixSkip(prefixes ...string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(r.URL.Path, p) {
				return true
			}
		}
		return false
	}
}

// MemoryCounter is a Counter for a single process.
type MemoryCounter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	start      time.Time
	curr, prev int64
}

// NewMemoryCounter returns an empty MemoryCounter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{buckets: make(map[string]*bucket)}
}

// Incr implements Counter.
func (m *MemoryCounter) Incr(_ context.Context, key string, start time.Time, window time.Duration) (curr, prev int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	switch {
	case !ok:
		b = &bucket{start: start}
		m.buckets[key] = b
	case start.Sub(b.start) == window:
		b.start, b.prev, b.curr = start, b.curr, 0
	case start.After(b.start):
		// Idle for more than a window: nothing carries over.
		b.start, b.prev, b.curr = start, 0, 0
	}
	// A start before b.start comes from a request that read the clock before
	// a concurrent rotation; it is counted in the newer window.
	b.curr++
	return b.curr, b.prev, nil
}

// Evict drops keys whose latest window began before cutoff and reports how
// many were removed.
func (m *MemoryCounter) Evict(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, b := range m.buckets {
		if b.start.Before(cutoff) {
			delete(m.buckets, key)
			n++
		}
	}
	return n
}

// Len reports the number of tracked keys.
func (m *MemoryCounter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

type rateLimiter struct {
	cfg RateLimitConfig
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	if cfg.Counter == nil {
		cfg.Counter = NewMemoryCounter()
	}
	return &rateLimiter{cfg: cfg}
}

// allow counts a hit for key. Rejected hits are counted too, so a client
// that keeps retrying stays limited. Counter errors fail open.
func (rl *rateLimiter) allow(ctx context.Context, key string, now time.Time) (remaining int, resetAt time.Time, allowed bool, err error) {
	window := rl.cfg.Window
	start := now.Truncate(window)
	resetAt = start.Add(window)

	curr, prev, err := rl.cfg.Counter.Incr(ctx, key, start, window)
	if err != nil {
		return rl.cfg.Max, resetAt, true, err
	}

	// The previous window counts proportionally to its overlap with the
	// sliding window ending now.
	overlap := 1 - now.Sub(start).Seconds()/window.Seconds()
	used := float64(prev)*overlap + float64(curr)
	if used > float64(rl.cfg.Max) {
		return 0, resetAt, false, nil
	}
	return int(float64(rl.cfg.Max) - used), resetAt, true, nil
}

// evictLoop periodically drops stale keys from counters that support it.
func (rl *rateLimiter) evictLoop(ctx context.Context) {
	ev, ok := rl.cfg.Counter.(interface{ Evict(time.Time) int })
	if !ok {
		return
	}
	interval := 2 * rl.cfg.Window
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				ev.Evict(now.Add(-interval))
			}
		}
	}()
}

// RateLimit enforces a per-key sliding window limit, answering 429 with a
// JSON error body once it is exceeded.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newRateLimiter(cfg).middleware()
}

// RateLimitWithCleanup is RateLimit with stale in-memory keys evicted in the
// background until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	rl.evictLoop(ctx)
	return rl.middleware()
}

func (rl *rateLimiter) middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.cfg.Skip != nil && rl.cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			remaining, resetAt, allowed, err := rl.allow(r.Context(), rl.cfg.KeyFunc(r), time.Now())
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limit counter unavailable", zap.Error(err))
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				retryAfter := max(time.Until(resetAt), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code":    http.StatusTooManyRequests,
					"message": "rate limit exceeded",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP keys by the first X-Forwarded-For hop, X-Real-IP, then RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
