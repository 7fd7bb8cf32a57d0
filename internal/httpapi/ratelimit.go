package httpapi

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	rateLimiterMaxSessions = 4096
	rateLimiterTTL         = 10 * time.Minute
)

// sessionLimiter applies a token bucket per session id. Idle buckets expire.
type sessionLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

// newSessionLimiter returns nil when perMin <= 0, which disables limiting.
func newSessionLimiter(perMin int) *sessionLimiter {
	if perMin <= 0 {
		return nil
	}
	burst := perMin / 10
	if burst < 1 {
		burst = 1
	}
	return &sessionLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](rateLimiterMaxSessions, nil, rateLimiterTTL),
		rate:     rate.Limit(float64(perMin) / 60.0),
		burst:    burst,
	}
}

func (l *sessionLimiter) Allow(sessionID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.limiters.Get(sessionID)
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters.Add(sessionID, limiter)
	}
	l.mu.Unlock()
	return limiter.Allow()
}
