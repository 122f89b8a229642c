package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedRateLimiter counts requests in Redis so budgets hold across
// every OLD instance serving the same databases. It uses a fixed window
// per key, which is close enough for fieldwork traffic.
type DistributedRateLimiter struct {
	rdb    *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a Redis-backed limiter. Keys are
// namespaced under prefix so user and anonymous budgets never collide.
func NewDistributedRateLimiter(rdb *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "old:ratelimit"
	}
	return &DistributedRateLimiter{
		rdb:    rdb,
		config: config,
		prefix: prefix,
	}
}

func (rl *DistributedRateLimiter) key(key string) string {
	return rl.prefix + ":" + key
}

// Allow increments the window counter for key and reports whether the
// request is under budget. A Redis failure allows the request; parse
// throttling is not worth an outage.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	pipe := rl.rdb.Pipeline()
	incr := pipe.Incr(ctx, rl.key(key))
	// Refreshing the TTL on every hit slightly favors chatty clients;
	// the window still caps their total.
	pipe.Expire(ctx, rl.key(key), rl.config.WindowDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("rate limit counter: %w", err)
	}

	return incr.Val() <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining reports the requests left in the current window for key.
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	count, err := rl.rdb.Get(ctx, rl.key(key)).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow, nil
	}
	if err != nil {
		return 0, err
	}

	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// TTL reports how long until the window for key resets.
func (rl *DistributedRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.rdb.TTL(ctx, rl.key(key)).Result()
}

// Reset clears the counter for key. Administrators use this to unblock a
// client mid-window.
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.rdb.Del(ctx, rl.key(key)).Err()
}

// DistributedRateLimitMiddleware is the Redis-backed counterpart of
// RateLimitMiddleware for multi-instance deployments.
type DistributedRateLimitMiddleware struct {
	userLimiter      *DistributedRateLimiter
	anonymousLimiter *DistributedRateLimiter
}

func NewDistributedRateLimitMiddleware(rdb *redis.Client) *DistributedRateLimitMiddleware {
	return &DistributedRateLimitMiddleware{
		userLimiter:      NewDistributedRateLimiter(rdb, PerUserRateLimitConfig(), "old:ratelimit:user"),
		anonymousLimiter: NewDistributedRateLimiter(rdb, DefaultRateLimitConfig(), "old:ratelimit:anon"),
	}
}

func (m *DistributedRateLimitMiddleware) limiterFor(r *http.Request) (*DistributedRateLimiter, string) {
	if ac := GetAuthContext(r); ac != nil && ac.User != nil {
		return m.userLimiter, fmt.Sprintf("user:%d", ac.User.ID)
	}
	return m.anonymousLimiter, "ip:" + getClientIP(r)
}

// Handler wraps next with Redis-backed rate limiting. Redis being down
// disables throttling rather than the service.
func (m *DistributedRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		limiter, key := m.limiterFor(r)

		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			reset := limiter.config.WindowDuration
			if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
				reset = ttl
			}
			writeRateLimited(w, limiter.config, reset)
			return
		}

		remaining, err := limiter.Remaining(ctx, key)
		if err != nil {
			// Counter already advanced; serve without headers.
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.config.RequestsPerWindow))
		h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
			h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(ttl).Unix()))
		}

		next.ServeHTTP(w, r)
	})
}
