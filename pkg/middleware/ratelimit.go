package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// RateLimitConfig sets the request budget for one class of client.
type RateLimitConfig struct {
	// RequestsPerWindow is the sustained budget per window.
	RequestsPerWindow int
	// WindowDuration is the refill window.
	WindowDuration time.Duration
	// BurstSize is extra headroom above the sustained rate.
	BurstSize int
}

// DefaultRateLimitConfig is the budget for unauthenticated clients.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// PerUserRateLimitConfig is the budget for authenticated users. Fieldwork
// clients sync whole corpora form by form, so this is deliberately loose.
func PerUserRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 1000,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

// ParseRateLimitConfig returns rate limits for the parse endpoints, which
// fan out to foma subprocesses and are far more expensive than CRUD.
func ParseRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 60,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// tokenBucket tracks one client's remaining budget. Refill happens lazily
// on the next take; idle buckets never tick.
type tokenBucket struct {
	tokens   int
	refilled time.Time
	mu       sync.Mutex
}

func (b *tokenBucket) take(cfg *RateLimitConfig) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	earned := int(now.Sub(b.refilled).Seconds() *
		float64(cfg.RequestsPerWindow) / cfg.WindowDuration.Seconds())
	if earned > 0 {
		b.tokens += earned
		if max := cfg.RequestsPerWindow + cfg.BurstSize; b.tokens > max {
			b.tokens = max
		}
		b.refilled = now
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// RateLimiter is an in-process token bucket keyed by client. A single OLD
// instance needs nothing shared; multi-instance deployments use the Redis
// limiter instead.
type RateLimiter struct {
	config  *RateLimitConfig
	buckets map[string]*tokenBucket
	mu      sync.RWMutex
}

func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*tokenBucket),
	}
}

// Allow reports whether key has budget left, consuming one token if so.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &tokenBucket{
			tokens:   rl.config.RequestsPerWindow + rl.config.BurstSize,
			refilled: time.Now(),
		}
		rl.buckets[key] = b
	}
	rl.mu.Unlock()

	return b.take(rl.config)
}

// Remaining returns the tokens left for key without consuming any.
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()
	if !ok {
		return rl.config.RequestsPerWindow + rl.config.BurstSize
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Cleanup drops buckets idle for two full windows. The map only grows with
// distinct clients, so callers run it on whatever cadence suits them.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-2 * rl.config.WindowDuration)
	for key, b := range rl.buckets {
		b.mu.Lock()
		if b.refilled.Before(cutoff) {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// RateLimitMiddleware throttles requests per authenticated user, falling
// back to per-IP budgets for unauthenticated traffic.
type RateLimitMiddleware struct {
	userLimiter      *RateLimiter
	anonymousLimiter *RateLimiter
}

func NewRateLimitMiddleware() *RateLimitMiddleware {
	return &RateLimitMiddleware{
		userLimiter:      NewRateLimiter(PerUserRateLimitConfig()),
		anonymousLimiter: NewRateLimiter(DefaultRateLimitConfig()),
	}
}

// limiterFor picks the budget for a request. Authenticated users get their
// own bucket; anonymous traffic shares one per source IP.
func (m *RateLimitMiddleware) limiterFor(r *http.Request) (*RateLimiter, string) {
	if ac := GetAuthContext(r); ac != nil && ac.User != nil {
		return m.userLimiter, fmt.Sprintf("user:%d", ac.User.ID)
	}
	return m.anonymousLimiter, "ip:" + getClientIP(r)
}

// Handler wraps next with rate limiting.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter, key := m.limiterFor(r)

		if !limiter.Allow(key) {
			writeRateLimited(w, limiter.config, limiter.config.WindowDuration)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.config.RequestsPerWindow))
		h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", limiter.Remaining(key)))
		h.Set("X-RateLimit-Reset", fmt.Sprintf("%d",
			time.Now().Add(limiter.config.WindowDuration).Unix()))

		next.ServeHTTP(w, r)
	})
}

// writeRateLimited emits the 429 response shared by both limiters.
func writeRateLimited(w http.ResponseWriter, cfg *RateLimitConfig, reset time.Duration) {
	retryAfter := fmt.Sprintf("%.0f", reset.Seconds())
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Retry-After", retryAfter)
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RequestsPerWindow))
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(reset).Unix()))
	w.WriteHeader(http.StatusTooManyRequests)
	fmt.Fprintf(w, `{"error":"rate limit exceeded","retry_after":%s}`, retryAfter)
}

// getClientIP resolves the client address, trusting proxy headers when
// present. OLD deployments typically sit behind nginx.
func getClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	return r.RemoteAddr
}
