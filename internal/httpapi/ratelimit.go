package httpapi

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// maxLimiterKeys caps the per-key bucket map; reaching it triggers an
	// eviction sweep so the map never grows with the number of users seen
	// over the process lifetime.
	maxLimiterKeys = 10000
	limiterIdleTTL = 3 * time.Minute
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a per-user token bucket to the public API. Keys come
// from the userId path segment, falling back to the remote address. Idle
// buckets are evicted once the key map fills up.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	maxKeys  int
	idleTTL  time.Duration
	logger   *zap.Logger
}

// NewRateLimiter creates a limiter allowing requestsPerMinute sustained with
// the given burst.
func NewRateLimiter(requestsPerMinute, burst int, logger *zap.Logger) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if burst <= 0 {
		burst = 10
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
		maxKeys:  maxLimiterKeys,
		idleTTL:  limiterIdleTTL,
		logger:   logger,
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	e, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= rl.maxKeys {
			rl.evictLocked(now)
		}
		e = &limiterEntry{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = e
	}
	e.lastSeen = now
	return e.lim
}

// evictLocked drops every bucket idle past the TTL; if none are idle the
// least recently seen bucket goes, so the map stays bounded by maxKeys.
// An evicted key simply gets a fresh full bucket on its next request.
func (rl *RateLimiter) evictLocked(now time.Time) {
	var oldestKey string
	var oldestSeen time.Time
	for key, e := range rl.limiters {
		if now.Sub(e.lastSeen) > rl.idleTTL {
			delete(rl.limiters, key)
			continue
		}
		if oldestKey == "" || e.lastSeen.Before(oldestSeen) {
			oldestKey = key
			oldestSeen = e.lastSeen
		}
	}
	if len(rl.limiters) >= rl.maxKeys && oldestKey != "" {
		delete(rl.limiters, oldestKey)
	}
}

// Middleware returns the HTTP middleware function.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("userId")
		if key == "" {
			key = r.RemoteAddr
		}

		if !rl.limiterFor(key).Allow() {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("path", r.URL.Path))
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(time.Minute.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
