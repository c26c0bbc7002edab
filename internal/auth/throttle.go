package auth

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Throttle is a token bucket per client IP guarding the whole API.
type Throttle struct {
	mu       sync.RWMutex
	limiters map[string]*ipLimiter
	rps      float64
	burst    int
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottle creates a throttle allowing rps requests per second per IP.
func NewThrottle(rps float64, burst int) *Throttle {
	return &Throttle{
		limiters: make(map[string]*ipLimiter),
		rps:      rps,
		burst:    burst,
	}
}

// Allow reports whether a request from ip may proceed.
func (t *Throttle) Allow(ip string) bool {
	return t.get(ip).Allow()
}

func (t *Throttle) get(ip string) *rate.Limiter {
	now := time.Now()

	t.mu.RLock()
	l, exists := t.limiters[ip]
	t.mu.RUnlock()
	if exists {
		t.mu.Lock()
		l.lastSeen = now
		t.mu.Unlock()
		return l.limiter
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring write lock
	if l, exists = t.limiters[ip]; exists {
		l.lastSeen = now
		return l.limiter
	}
	l = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(t.rps), t.burst), lastSeen: now}
	t.limiters[ip] = l
	return l.limiter
}

// Forget drops limiters idle for longer than maxIdle.
func (t *Throttle) Forget(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)
	t.mu.Lock()
	defer t.mu.Unlock()
	for ip, l := range t.limiters {
		if l.lastSeen.Before(cutoff) {
			delete(t.limiters, ip)
		}
	}
}

// Middleware rejects requests beyond the per-IP rate with 429.
func (t *Throttle) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !t.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":     "Too many requests",
				"error_key": "error.rate_limited",
			})
			return
		}
		c.Next()
	}
}
