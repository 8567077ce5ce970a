package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"portal-messaging/pkg/errors"
	"portal-messaging/pkg/metrics"
	"portal-messaging/pkg/response"
)

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// SendRateLimiter throttles message sends per user with a token bucket
type SendRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*userLimiter
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewSendRateLimiter allows perMinute sends with the given burst per user
func NewSendRateLimiter(perMinute, burst int) *SendRateLimiter {
	return &SendRateLimiter{
		limiters: make(map[string]*userLimiter),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

// WithMetrics records rejections on m
func (rl *SendRateLimiter) WithMetrics(m *metrics.Metrics) *SendRateLimiter {
	rl.metrics = m
	return rl
}

// Allow reports whether key may send now
func (rl *SendRateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	ul, ok := rl.limiters[key]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = ul
	}
	ul.lastSeen = now

	r := ul.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Cleanup drops limiters idle for longer than the idle TTL
func (rl *SendRateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idleTTL)
	removed := 0
	for key, ul := range rl.limiters {
		if ul.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}

// Middleware returns a Gin middleware keyed by the authenticated caller,
// or the client IP when no caller is present
func (rl *SendRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if caller, ok := CallerFromContext(c); ok {
			key = "user:" + caller.UserID
		}

		allowed, retryAfter := rl.Allow(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(int(math.Round(float64(rl.limit)*60))))
		if !allowed {
			if rl.metrics != nil {
				rl.metrics.RecordRateLimitBlocked(c.FullPath())
			}
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			response.FromError(c, errors.RateLimitExceededError())
			return
		}
		c.Next()
	}
}
