package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tokensale/observability"
)

// RateLimit describes a token bucket refilled per minute.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

const visitorIdleTTL = 5 * time.Minute

type visitor struct {
	limiter *rate.Limiter
	seen    time.Time
}

// RateLimiter throttles requests per caller. Authenticated callers are keyed
// by address, anonymous ones by client IP.
type RateLimiter struct {
	limit     RateLimit
	mu        sync.Mutex
	visitors  map[string]*visitor
	lastPrune time.Time
	clockNow  func() time.Time
}

// NewRateLimiter returns a limiter enforcing limit. A non-positive rate
// disables throttling.
func NewRateLimiter(limit RateLimit) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		visitors: make(map[string]*visitor),
		clockNow: time.Now,
	}
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l == nil || l.limit.RequestsPerMinute <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !l.Allow(clientID(r)) {
			observability.ModuleMetrics().RecordThrottle("presale", "rate_limit")
			writeError(w, errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow consumes one token from the bucket of id.
func (l *RateLimiter) Allow(id string) bool {
	now := l.clockNow()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastPrune) > visitorIdleTTL {
		for key, v := range l.visitors {
			if now.Sub(v.seen) > visitorIdleTTL {
				delete(l.visitors, key)
			}
		}
		l.lastPrune = now
	}
	entry, ok := l.visitors[id]
	if !ok {
		perSecond := l.limit.RequestsPerMinute / 60.0
		burst := l.limit.Burst
		if burst <= 0 {
			burst = 1
		}
		entry = &visitor{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
		l.visitors[id] = entry
	}
	entry.seen = now
	return entry.limiter.AllowN(now, 1)
}

func clientID(r *http.Request) string {
	if caller, ok := CallerFromContext(r.Context()); ok {
		return caller.Hex()
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if parsed := net.ParseIP(first); parsed != nil {
			return parsed.String()
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
