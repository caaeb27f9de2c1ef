package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dework/observability"
)

const (
	limiterSweepThreshold = 1024
	limiterIdleTTL        = 5 * time.Minute
)

// RateLimit is a per-client budget for one route group.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

func (l RateLimit) limiter() *rate.Limiter {
	every := rate.Limit(l.RequestsPerMinute / 60)
	if every <= 0 {
		every = 1
	}
	return rate.NewLimiter(every, max(l.Burst, 1))
}

type bucket struct {
	*rate.Limiter
	touched time.Time
}

// RateLimiter keeps one token bucket per route key and caller. Authenticated
// callers are bucketed by address, anonymous ones by IP.
type RateLimiter struct {
	logger *slog.Logger
	limits map[string]RateLimit
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewRateLimiter(limits map[string]RateLimit, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		logger:  logger,
		limits:  limits,
		now:     time.Now,
		buckets: map[string]*bucket{},
	}
}

// Middleware throttles requests under key. Keys without a configured limit
// pass through untouched.
func (r *RateLimiter) Middleware(key string) func(http.Handler) http.Handler {
	limit, limited := r.limits[key]
	return func(next http.Handler) http.Handler {
		if !limited {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if r.take(key+"|"+callerKey(req), limit) {
				next.ServeHTTP(w, req)
				return
			}
			observability.Gateway().RecordThrottle(key, "rate_limit")
			r.logger.DebugContext(req.Context(), "rate limited", slog.String("route", key))
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
		})
	}
}

func (r *RateLimiter) take(id string, limit RateLimit) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	b, ok := r.buckets[id]
	if !ok {
		if len(r.buckets) >= limiterSweepThreshold {
			r.sweepLocked(now)
		}
		b = &bucket{Limiter: limit.limiter()}
		r.buckets[id] = b
	}
	b.touched = now
	return b.AllowN(now, 1)
}

func (r *RateLimiter) sweepLocked(now time.Time) {
	for id, b := range r.buckets {
		if now.Sub(b.touched) > limiterIdleTTL {
			delete(r.buckets, id)
		}
	}
}

func callerKey(r *http.Request) string {
	if principal, ok := PrincipalFrom(r.Context()); ok {
		return principal.Address.Hex()
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
