package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dativebase/old/pkg/auth"
	"github.com/dativebase/old/pkg/contextkeys"
	"github.com/dativebase/old/pkg/model"
)

// Helper function to set auth context in request for testing
func setAuthContextForTest(r *http.Request, authCtx *auth.AuthContext) *http.Request {
	ctx := context.WithValue(r.Context(), contextkeys.AuthKey, authCtx)
	return r.WithContext(ctx)
}

func TestRateLimiter_Allow(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter := NewRateLimiter(config)

	key := "test-user"

	// Should allow initial requests up to limit + burst
	allowedCount := 0
	for i := 0; i < config.RequestsPerWindow+config.BurstSize+5; i++ {
		if limiter.Allow(key) {
			allowedCount++
		}
	}

	expected := config.RequestsPerWindow + config.BurstSize
	if allowedCount != expected {
		t.Errorf("Allowed %d requests, want %d", allowedCount, expected)
	}

	// After waiting, tokens should refill
	time.Sleep(time.Second)
	if !limiter.Allow(key) {
		t.Error("Should allow request after refill")
	}
}

func TestRateLimiter_Remaining(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Minute,
		BurstSize:         5,
	}
	limiter := NewRateLimiter(config)

	key := "test-user"

	if got := limiter.Remaining(key); got != 15 {
		t.Errorf("Remaining() = %d, want 15 for fresh key", got)
	}

	limiter.Allow(key)
	limiter.Allow(key)

	if got := limiter.Remaining(key); got != 13 {
		t.Errorf("Remaining() = %d, want 13 after two requests", got)
	}
}

func TestRateLimiter_IndependentKeys(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Minute,
		BurstSize:         0,
	}
	limiter := NewRateLimiter(config)

	limiter.Allow("user:1")
	limiter.Allow("user:1")

	if limiter.Allow("user:1") {
		t.Error("user:1 should be exhausted")
	}
	if !limiter.Allow("user:2") {
		t.Error("user:2 should have its own budget")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    10 * time.Millisecond,
		BurstSize:         0,
	}
	limiter := NewRateLimiter(config)

	limiter.Allow("stale")
	time.Sleep(25 * time.Millisecond)
	limiter.Cleanup()

	limiter.mu.RLock()
	_, exists := limiter.buckets["stale"]
	limiter.mu.RUnlock()
	if exists {
		t.Error("stale bucket should have been cleaned up")
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	config := DefaultRateLimitConfig()
	if config.RequestsPerWindow != 100 {
		t.Errorf("RequestsPerWindow = %d, want 100", config.RequestsPerWindow)
	}
	if config.WindowDuration != time.Minute {
		t.Errorf("WindowDuration = %v, want 1m", config.WindowDuration)
	}
}

func TestParseRateLimitConfig(t *testing.T) {
	config := ParseRateLimitConfig()
	if config.RequestsPerWindow >= PerUserRateLimitConfig().RequestsPerWindow {
		t.Error("Parse rate limit should be tighter than the general per-user limit")
	}
}

func TestRateLimitMiddleware_Handler_Anonymous(t *testing.T) {
	m := NewRateLimitMiddleware()
	m.anonymousLimiter.config = &RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Minute,
		BurstSize:         0,
	}

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/forms", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
		if w.Header().Get("X-RateLimit-Remaining") == "" {
			t.Error("X-RateLimit-Remaining header should be set")
		}
	}

	req := httptest.NewRequest("GET", "/forms", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 after limit", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set on 429")
	}
}

func TestRateLimitMiddleware_Handler_AuthenticatedUser(t *testing.T) {
	m := NewRateLimitMiddleware()
	m.userLimiter.config = &RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
		BurstSize:         0,
	}

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	authCtx := &auth.AuthContext{User: &model.UserRef{ID: 7, Role: model.RoleContributor}}

	req := setAuthContextForTest(httptest.NewRequest("GET", "/forms", nil), authCtx)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	req = setAuthContextForTest(httptest.NewRequest("GET", "/forms", nil), authCtx)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 for exhausted user", w.Code)
	}

	// A different user is not affected
	other := &auth.AuthContext{User: &model.UserRef{ID: 8, Role: model.RoleViewer}}
	req = setAuthContextForTest(httptest.NewRequest("GET", "/forms", nil), other)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for different user", w.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name      string
		forwarded string
		realIP    string
		remote    string
		want      string
	}{
		{
			name:      "x-forwarded-for wins",
			forwarded: "203.0.113.5",
			realIP:    "198.51.100.2",
			remote:    "10.0.0.1:1234",
			want:      "203.0.113.5",
		},
		{
			name:   "x-real-ip second",
			realIP: "198.51.100.2",
			remote: "10.0.0.1:1234",
			want:   "198.51.100.2",
		},
		{
			name:   "remote addr fallback",
			remote: "10.0.0.1:1234",
			want:   "10.0.0.1:1234",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
