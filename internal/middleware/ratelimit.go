package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RateLimiter is a fixed-window counter backed by Redis so limits hold
// across replicas. With no Redis client it degrades to allowing everything.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	logger *logrus.Entry
}

// NewRateLimiter creates a limiter allowing limit requests per window
func NewRateLimiter(client *redis.Client, limit int, window time.Duration, prefix string, logger *logrus.Logger) *RateLimiter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: prefix,
		logger: logger.WithField("component", "ratelimit"),
	}
}

// Allow increments the caller's window counter and checks it against the
// limit. Redis errors fail open; throttling is protection, not correctness.
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	if rl.client == nil {
		return true
	}

	windowKey := fmt.Sprintf("%s:%s:%d", rl.prefix, key, time.Now().Unix()/int64(rl.window.Seconds()))

	pipe := rl.client.TxPipeline()
	count := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.WithError(err).Warn("Rate limit check failed, allowing request")
		return true
	}

	return count.Val() <= int64(rl.limit)
}

// RateLimitMiddleware throttles by client IP
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.Request.Context(), c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "Rate limit exceeded",
				"message": "Too many requests, please try again later",
			})
			return
		}
		c.Next()
	}
}

// PaymentRateLimits groups the limiters for the different surfaces. Webhook
// traffic bursts on provider retries, so its window is far looser.
type PaymentRateLimits struct {
	Payments *RateLimiter
	Refunds  *RateLimiter
	General  *RateLimiter
	Webhook  *RateLimiter
}

// NewPaymentRateLimits creates the per-surface limiters
func NewPaymentRateLimits(client *redis.Client, logger *logrus.Logger) *PaymentRateLimits {
	return &PaymentRateLimits{
		Payments: NewRateLimiter(client, 30, time.Minute, "rl:payments", logger),
		Refunds:  NewRateLimiter(client, 15, time.Minute, "rl:refunds", logger),
		General:  NewRateLimiter(client, 300, time.Minute, "rl:api", logger),
		Webhook:  NewRateLimiter(client, 3000, time.Minute, "rl:webhook", logger),
	}
}
