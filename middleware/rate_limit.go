package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter counts requests per caller in fixed windows. Authenticated
// callers are keyed by actor id so sales sharing an office NAT do not
// throttle each other; anonymous callers (the public signing endpoints)
// fall back to the client IP.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*callerWindow
	rate    int
	window  time.Duration
}

type callerWindow struct {
	count   int
	started time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*callerWindow),
		rate:    rate,
		window:  window,
	}
}

// Allow records one request for key and reports whether it is within the rate.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.started) > l.window {
		// Expired windows for other callers are swept lazily once the
		// map has grown well past the live caller count.
		if len(l.windows) > 2*l.rate {
			for k, old := range l.windows {
				if now.Sub(old.started) > l.window {
					delete(l.windows, k)
				}
			}
		}
		l.windows[key] = &callerWindow{count: 1, started: now}
		return true
	}
	if w.count >= l.rate {
		return false
	}
	w.count++
	return true
}

// RateLimit middleware limits requests per actor, falling back to client IP
func RateLimit(rate int, window time.Duration) gin.HandlerFunc {
	limiter := NewRateLimiter(rate, window)

	return func(c *gin.Context) {
		key := c.ClientIP()
		if actor := GetActor(c); actor.ID != 0 {
			key = "actor:" + strconv.FormatUint(uint64(actor.ID), 10)
		}

		if !limiter.Allow(key) {
			slog.Warn("rate limit exceeded",
				"caller", key,
				"request_id", GetRequestID(c),
				"path", c.Request.URL.Path,
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			return
		}

		c.Next()
	}
}
