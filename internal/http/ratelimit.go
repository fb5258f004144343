package http

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fintrack/internal/cache"
)

const (
	maxTrackedClients = 10000
	clientIdleTTL     = 10 * time.Minute
)

// rateLimiter hands out one token bucket per client IP. Buckets for idle
// clients expire from the LRU and are rebuilt full on their next request.
type rateLimiter struct {
	mu        sync.Mutex
	clients   *cache.LRUCache[string, *rate.Limiter]
	limit     rate.Limit
	burst     int
	perMinute int
}

// newRateLimiter allows perMinute requests per client per minute, all of
// which may arrive at once. A perMinute of zero or less disables limiting.
func newRateLimiter(perMinute int) *rateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &rateLimiter{
		clients:   cache.NewLRUCache[string, *rate.Limiter](maxTrackedClients, clientIdleTTL),
		limit:     rate.Limit(float64(perMinute) / 60),
		burst:     perMinute,
		perMinute: perMinute,
	}
}

func (rl *rateLimiter) allow(clientIP string) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	lim, ok := rl.clients.Get(clientIP)
	if !ok {
		lim = rate.NewLimiter(rl.limit, rl.burst)
	}
	// Refresh the TTL on every request so active clients keep their bucket.
	rl.clients.Set(clientIP, lim)
	rl.mu.Unlock()
	return lim.Allow()
}

// CleanExpired drops buckets of clients that have gone idle.
func (rl *rateLimiter) CleanExpired() int {
	if rl == nil {
		return 0
	}
	return rl.clients.CleanExpired()
}

func (rl *rateLimiter) retryAfter() string {
	// Seconds until the next token, rounded up.
	return strconv.Itoa((60 + rl.perMinute - 1) / rl.perMinute)
}

// withRateLimit throttles writes. Reads are never limited.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		clientIP := extractClientIP(r)
		if !s.limiter.allow(clientIP) {
			requestLogger(r.Context()).Warn("Rate limit exceeded", "client_ip", clientIP)
			NewResponse().
				Status(http.StatusTooManyRequests).
				Header("Retry-After", s.limiter.retryAfter()).
				JSON(errorBody{Error: errorDetail{Kind: "rate_limited", Message: "rate limit exceeded, retry later"}}).
				Write(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
