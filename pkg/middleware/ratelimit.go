package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// DefaultRateLimitConfig returns the per-tenant write limit
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 600,
		WindowDuration:    time.Minute,
		BurstSize:         60,
	}
}

// Limiter decides whether one more request for key fits in the current window
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Config() *RateLimitConfig
}

// RateLimiter implements rate limiting using token bucket algorithm
type RateLimiter struct {
	config  *RateLimitConfig
	buckets map[string]*bucket
	mu      sync.RWMutex
	now     func() time.Time
}

type bucket struct {
	tokens     int
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new in-process rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Config returns the limiter settings
func (rl *RateLimiter) Config() *RateLimitConfig {
	return rl.config
}

// Allow checks if a request is allowed. It never fails.
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{
			tokens:     rl.capacity(),
			lastUpdate: rl.now(),
		}
		rl.buckets[key] = b
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.now()
	elapsed := now.Sub(b.lastUpdate)

	tokensToAdd := int(elapsed.Seconds() * float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds())
	if tokensToAdd > 0 {
		b.tokens += tokensToAdd
		if b.tokens > rl.capacity() {
			b.tokens = rl.capacity()
		}
		b.lastUpdate = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// Remaining returns the number of remaining tokens for a key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if !exists {
		return rl.capacity()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

func (rl *RateLimiter) capacity() int {
	return rl.config.RequestsPerWindow + rl.config.BurstSize
}

// Cleanup removes buckets idle for more than two windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// StartCleanup starts a background goroutine to cleanup old buckets
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer observability.RecoverPanic(observability.FromContext(ctx), "rate limit cleanup")
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RateLimitMiddleware throttles role mutations per tenant
type RateLimitMiddleware struct {
	limiter Limiter
	// failOpen lets requests through when the limiter backend errors
	failOpen bool
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(limiter Limiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter:  limiter,
		failOpen: true,
	}
}

// SetFailOpen controls whether to fail open (true) or closed (false) on limiter errors
func (m *RateLimitMiddleware) SetFailOpen(enabled bool) {
	m.failOpen = enabled
}

// Handler wraps an HTTP handler with rate limiting. Reads are never limited.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isRead(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		key := rateLimitKey(r)
		config := m.limiter.Config()

		allowed, err := m.limiter.Allow(ctx, key)
		if err != nil {
			observability.FromContext(ctx).WithError(err).WithField("key", key).Warn("rate limiter unavailable")
			if !m.failOpen {
				http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			rateLimitExceeded(w, config)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
		next.ServeHTTP(w, r)
	})
}

func rateLimitExceeded(w http.ResponseWriter, config *RateLimitConfig) {
	retryAfter := config.WindowDuration.Seconds()
	w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
	w.Header().Set("X-RateLimit-Remaining", "0")
	httputil.WriteCodedError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
}

// rateLimitKey keys by tenant once the session is known, by client IP before that
func rateLimitKey(r *http.Request) string {
	if tenantID := contextkeys.GetTenantID(r.Context()); tenantID != "" {
		return "tenant:" + tenantID
	}
	return "ip:" + getClientIP(r)
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
