package httpx

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter bounds request rates per key. Implementations must be safe for
// concurrent use.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, remaining int, retryAfter time.Duration, err error)
}

type rateLimitKeyFunc func(req *http.Request) string

// rateLimitKeyIP buckets anonymous traffic by client address.
func rateLimitKeyIP(req *http.Request) string {
	return "ip:" + clientIP(req)
}

// rateLimitKeyUser buckets authenticated traffic by user id, falling back to
// the client address when no identity is attached.
func rateLimitKeyUser(req *http.Request) string {
	if info, ok := authInfoFromContext(req.Context()); ok && info.UserID != "" {
		return "user:" + info.UserID
	}
	return rateLimitKeyIP(req)
}

// withRateLimit wraps a handler with a per-route request budget. Limiter
// errors fail open; analytics ingestion should degrade, not refuse traffic.
func (r *Router) withRateLimit(route string, limit int, window time.Duration, keyFn rateLimitKeyFunc, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.limiter == nil {
			next(w, req)
			return
		}
		key := route + ":" + keyFn(req)
		allowed, remaining, retryAfter, err := r.limiter.Allow(req.Context(), key, limit, window)
		if err != nil {
			r.logger.Warn("rate limiter unavailable", "route", route, "error", err)
			next(w, req)
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			r.recordRateLimitHit(route, keyFn(req))
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

func clientIP(req *http.Request) string {
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

type rateBucket struct {
	count   int
	resetAt time.Time
}

// MemoryRateLimiter is a fixed-window limiter for single-instance
// deployments. Multi-instance deployments should use the Redis limiter so
// budgets apply across replicas.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rateBucket
	now     func() time.Time
}

// NewMemoryRateLimiter builds the in-process limiter and starts a janitor
// that drops expired buckets.
func NewMemoryRateLimiter(ctx context.Context) *MemoryRateLimiter {
	limiter := &MemoryRateLimiter{
		buckets: make(map[string]*rateBucket),
		now:     time.Now,
	}
	go limiter.sweep(ctx)
	return limiter
}

// Allow consumes one unit of the key's budget for the current window.
func (l *MemoryRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, int, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	bucket, ok := l.buckets[key]
	if !ok || now.After(bucket.resetAt) {
		bucket = &rateBucket{resetAt: now.Add(window)}
		l.buckets[key] = bucket
	}
	if bucket.count >= limit {
		return false, 0, bucket.resetAt.Sub(now), nil
	}
	bucket.count++
	return true, limit - bucket.count, bucket.resetAt.Sub(now), nil
}

func (l *MemoryRateLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for key, bucket := range l.buckets {
				if now.After(bucket.resetAt) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
