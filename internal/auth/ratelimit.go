package auth

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/web-casa/stackdeck/internal/apperr"
	"github.com/web-casa/stackdeck/internal/metrics"
)

// Class groups operations that share a rate limit budget.
type Class string

const (
	ClassSensitive  Class = "sensitive"   // compose up/down, deletes, cleanup
	ClassContainer  Class = "container"   // container start/stop
	ClassStackWrite Class = "stack-write" // stack create/update
	ClassLogin      Class = "login"       // keyed by client IP
)

// DefaultLimit and DefaultWindow bound every class unless configured otherwise.
const (
	DefaultLimit  = 5
	DefaultWindow = 60 * time.Second
)

// Limiter is a sliding-window counter per (user, class). A rejected call is
// not recorded, so a caller that backs off regains budget once old hits age out.
type Limiter struct {
	limit   int
	window  time.Duration
	now     func() time.Time
	metrics *metrics.Metrics

	mu      sync.Mutex
	windows map[string]*slidingWindow
}

type slidingWindow struct {
	mu      sync.Mutex
	hits    []time.Time
	evicted bool // removed by Sweep; callers must fetch a fresh window
}

// NewLimiter creates a limiter allowing limit calls per window.
func NewLimiter(limit int, window time.Duration, m *metrics.Metrics) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		metrics: m,
		windows: make(map[string]*slidingWindow),
	}
}

// Allow records a call for (user, class) if the window has room. Otherwise it
// returns false and how long until the oldest hit expires.
func (l *Limiter) Allow(user string, class Class) (bool, time.Duration) {
	key := user + ":" + string(class)
	w := l.slot(key)
	w.mu.Lock()
	for w.evicted {
		w.mu.Unlock()
		w = l.slot(key)
		w.mu.Lock()
	}
	defer w.mu.Unlock()

	now := l.now()
	w.prune(now, l.window)

	if len(w.hits) >= l.limit {
		l.metrics.Rejected(string(class))
		retry := l.window - now.Sub(w.hits[0])
		if retry < time.Second {
			retry = time.Second
		}
		return false, retry
	}
	w.hits = append(w.hits, now)
	return true, 0
}

// Check is Allow returning a RateLimited error on rejection.
func (l *Limiter) Check(user string, class Class) error {
	if ok, retry := l.Allow(user, class); !ok {
		return apperr.Limited(retry)
	}
	return nil
}

// Sweep drops keys whose hits have all expired.
func (l *Limiter) Sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		w.mu.Lock()
		w.prune(now, l.window)
		if len(w.hits) == 0 {
			w.evicted = true
			delete(l.windows, key)
		}
		w.mu.Unlock()
	}
}

// Run sweeps every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func (l *Limiter) slot(key string) *slidingWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok {
		w = &slidingWindow{}
		l.windows[key] = w
	}
	return w
}

// prune drops hits older than window. A hit exactly window old still counts.
func (w *slidingWindow) prune(now time.Time, window time.Duration) {
	i := 0
	for i < len(w.hits) && now.Sub(w.hits[i]) > window {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

// RequireQuota rejects the request with 429 when the authenticated user has
// exhausted class. It must run after Middleware.
func RequireQuota(l *Limiter, class Class) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ok, retry := l.Allow(Username(c), class); !ok {
			abortLimited(c, retry)
			return
		}
		c.Next()
	}
}

func abortLimited(c *gin.Context, retry time.Duration) {
	secs := int((retry + time.Second - 1) / time.Second)
	c.Header("Retry-After", strconv.Itoa(secs))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":       "Too many requests",
		"error_key":   "error.rate_limited",
		"retry_after": secs,
	})
}
