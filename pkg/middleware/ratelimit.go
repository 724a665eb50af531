package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	client      *redis.Client
	maxRequests int
	windowSec   int
}

func NewRateLimiter(client *redis.Client, maxRequestsPerMinute int) *RateLimiter {
	return &RateLimiter{
		client:      client,
		maxRequests: maxRequestsPerMinute,
		windowSec:   60,
	}
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		operatorID, exists := c.Get("operator_id")
		if !exists {
			operatorID = c.ClientIP()
		}

		key := fmt.Sprintf("ratelimit:%v", operatorID)
		ctx := context.Background()

		count, err := rl.client.Incr(ctx, key).Result()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "rate limit check failed"})
			c.Abort()
			return
		}

		if count == 1 {
			rl.client.Expire(ctx, key, time.Duration(rl.windowSec)*time.Second)
		}

		if count > int64(rl.maxRequests) {
			c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", rl.maxRequests))
			c.Header("X-RateLimit-Remaining", "0")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": rl.windowSec,
			})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", rl.maxRequests))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", rl.maxRequests-int(count)))
		c.Next()
	}
}
