package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eventix/eventix/pkg/logger"
	"github.com/eventix/eventix/pkg/redis"
)

// DefaultRateLimit is the per-client request budget per window.
const DefaultRateLimit = 100

// rateWindow is the fixed window length.
const rateWindow = time.Minute

// Counter increments the hit count for a window key, returning the
// count after the increment. The key expires with the window.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RedisCounter counts in Redis so the limit holds across gateway
// replicas.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter creates a Redis-backed counter.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.client.Client().TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// MemoryCounter is an in-process counter for tests and single replica
// runs.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryCounter creates an empty in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int64)}
}

func (c *MemoryCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key], nil
}

// RateLimiter enforces a fixed-window per-client limit. Counter errors
// fail open: a broken store must not reject traffic.
func RateLimiter(counter Counter, limit int) gin.HandlerFunc {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	log := logger.Get().With(zap.String("component", "rate_limiter"))

	return func(c *gin.Context) {
		now := time.Now()
		windowStart := now.Truncate(rateWindow)
		key := fmt.Sprintf("ratelimit:%s:%d", c.ClientIP(), windowStart.Unix())

		count, err := counter.Incr(c.Request.Context(), key, rateWindow)
		if err != nil {
			log.Warn("rate limit store unavailable, failing open", zap.Error(err))
			c.Next()
			return
		}

		remaining := int64(limit) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(limit) {
			retryAfter := int(windowStart.Add(rateWindow).Sub(now).Seconds()) + 1
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "TOO_MANY_REQUESTS",
					"message": fmt.Sprintf("rate limit exceeded, retry after %d second(s)", retryAfter),
				},
			})
			return
		}
		c.Next()
	}
}
