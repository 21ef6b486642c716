package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dubflow/api/pkg/logger"
	"github.com/dubflow/api/pkg/response"
)

// RateLimiter counts requests per owner in fixed redis windows. A nil
// redis client disables limiting.
type RateLimiter struct {
	redis  *redis.Client
	logger *slog.Logger
}

func NewRateLimiter(redisClient *redis.Client, log *slog.Logger) *RateLimiter {
	if log == nil {
		log = logger.Discard()
	}
	return &RateLimiter{redis: redisClient, logger: log.With("component", "rate_limiter")}
}

// Limit creates a rate limiting middleware
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl.redis == nil || maxRequests <= 0 {
			return c.Next()
		}

		subject := fmt.Sprintf("owner:%d", GetOwnerID(c))
		if GetOwnerID(c) == 0 {
			subject = "ip:" + c.IP()
		}
		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, subject)
		ctx := context.Background()

		// Increment counter
		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// If Redis fails, allow the request but log the error
			rl.logger.Warn("Rate limiter unavailable", "key", key, "error", err)
			return c.Next()
		}

		// Set expiration on first request
		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			// Get TTL for retry-after header
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		// Add rate limit headers
		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))

		return c.Next()
	}
}

// UploadLimit limits new translation jobs per hour
func (rl *RateLimiter) UploadLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("upload", maxPerHour, time.Hour)
}

// RetryLimit limits retries of failed jobs per hour
func (rl *RateLimiter) RetryLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("retry", maxPerHour, time.Hour)
}

// RegenerateLimit limits audio regenerations per hour
func (rl *RateLimiter) RegenerateLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("regenerate", maxPerHour, time.Hour)
}
