package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const idempotencyKeyHeader = "Idempotency-Key"
const idempotencyTTL = 24 * time.Hour

// IdempotencyMiddleware ensures idempotent requests using the Idempotency-Key
// header. Call-control actions are not safely repeatable, so operators retrying
// a timed-out request should supply the same key.
func IdempotencyMiddleware(redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost &&
			c.Request.Method != http.MethodPut &&
			c.Request.Method != http.MethodPatch {
			c.Next()
			return
		}

		key := c.GetHeader(idempotencyKeyHeader)
		if key == "" {
			c.Next()
			return
		}

		hash := hashIdempotencyKey(key)
		cacheKey := "idempotency:" + hash

		ctx := c.Request.Context()
		val, err := redisClient.Get(ctx, cacheKey).Result()
		if err == nil && val != "" {
			c.Header("X-Idempotency-Key-Used", "true")
			c.Data(http.StatusOK, "application/json", []byte(val))
			c.Abort()
			return
		}

		c.Set("idempotency_key", hash)
		c.Set("idempotency_cache_key", cacheKey)
		c.Next()
	}
}

// StoreIdempotencyResponse stores the response for idempotency
func StoreIdempotencyResponse(c *gin.Context, redisClient *redis.Client, status int, body []byte) {
	cacheKey, exists := c.Get("idempotency_cache_key")
	if !exists {
		return
	}

	ctx := c.Request.Context()
	redisClient.Set(ctx, cacheKey.(string), string(body), idempotencyTTL)
}

func hashIdempotencyKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
