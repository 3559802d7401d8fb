package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type rateCounter struct {
	count     int
	windowEnd time.Time
}

// rateLimiter tracks fixed-window request counts per key. Stale counters are
// swept opportunistically from the request path, at most once per window, so
// no background goroutine is needed.
type rateLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	data    map[string]*rateCounter
	sweepAt time.Time
}

func newRateLimiter(maxRequests int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		max:    maxRequests,
		window: window,
		data:   make(map[string]*rateCounter),
	}
}

// allow counts a request against key and reports whether it fits the window,
// along with the remaining quota and time until the window resets.
func (l *rateLimiter) allow(key string, now time.Time) (bool, int, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.sweepAt) {
		for k, v := range l.data {
			if now.After(v.windowEnd) {
				delete(l.data, k)
			}
		}
		l.sweepAt = now.Add(l.window)
	}

	ct, ok := l.data[key]
	if !ok || now.After(ct.windowEnd) {
		ct = &rateCounter{windowEnd: now.Add(l.window)}
		l.data[key] = ct
	}
	ct.count++

	remaining := l.max - ct.count
	if remaining < 0 {
		remaining = 0
	}
	return ct.count <= l.max, remaining, ct.windowEnd.Sub(now)
}

func (l *rateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.data)
}

// RateLimit limits requests per (clientIP, path) within a fixed window. The
// sensitive endpoints it guards are the credential ones: login, code
// submission, reset requests. In-memory, so per-instance; suitable for
// single-instance deployments and tests.
func RateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	limiter := newRateLimiter(maxRequests, window)

	return func(c *gin.Context) {
		if maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		key := c.ClientIP() + "|" + c.FullPath()
		ok, remaining, resetIn := limiter.allow(key, time.Now())

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Seconds())))

		if !ok {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}

		c.Next()
	}
}
