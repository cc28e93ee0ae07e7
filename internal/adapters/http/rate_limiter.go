package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/telecare/internal/domain"
)

// CreateRateLimiter caps how often one client may create session rows,
// sliding window per user.
type CreateRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
}

func NewCreateRateLimiter(limit int, interval time.Duration) *CreateRateLimiter {
	return &CreateRateLimiter{
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *CreateRateLimiter) Allow(uid domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[uid]

	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[uid] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[uid] = fresh

	return true
}

// RateLimitMiddleware rejects callers that exceed the limiter's window.
func RateLimitMiddleware(rl *CreateRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := domain.UserID(c.GetString("client_token"))
		if !rl.Allow(uid) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many sessions, slow down"})
			return
		}
		c.Next()
	}
}
