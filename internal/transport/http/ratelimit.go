package http

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/proto"
)

// maxTrackedUsers bounds the limiter table; it is reset when exceeded.
const maxTrackedUsers = 10000

// rateLimiter hands out one token bucket per user. A zero rate disables limiting.
type rateLimiter struct {
	limit rate.Limit
	burst int

	mu    sync.Mutex
	users map[int64]*rate.Limiter
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	if perSecond <= 0 {
		return &rateLimiter{}
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		limit: rate.Limit(perSecond),
		burst: burst,
		users: make(map[int64]*rate.Limiter),
	}
}

func (r *rateLimiter) allow(userID int64) bool {
	if r == nil || r.limit <= 0 {
		return true
	}

	r.mu.Lock()
	l, ok := r.users[userID]
	if !ok {
		if len(r.users) >= maxTrackedUsers {
			r.users = make(map[int64]*rate.Limiter)
		}
		l = rate.NewLimiter(r.limit, r.burst)
		r.users[userID] = l
	}
	r.mu.Unlock()

	return l.Allow()
}

// rateLimitMiddleware rejects requests of users that exhausted their bucket with 429.
func rateLimitMiddleware(r *rateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, _ := currentUserID(c)
		if !r.allow(uid) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, proto.ErrorResponse{
				Error: "rate limit exceeded",
				Code:  core.ErrCodeRateLimited,
			})
			return
		}
		c.Next()
	}
}
