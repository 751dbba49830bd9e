package http

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"vidbot/internal/config"
)

// requesterFrom resolves the identity a request is attributed to: the
// X-User-Id header when present, otherwise the client IP. Submit
// bodies may also carry an explicit userId, which the handler prefers.
func requesterFrom(c *fiber.Ctx) string {
	if id := c.Get("X-User-Id"); id != "" {
		return id
	}
	return c.IP()
}

// rateLimitMiddleware enforces a per-minute fixed-window limit on
// submissions per requester using Redis.
func rateLimitMiddleware(cfg *config.Config, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.RateLimit.SubmitPerMinute <= 0 {
			return c.Next()
		}

		now := time.Now().UTC()
		window := now.Format("200601021504") // YYYYMMDDHHMM minute window
		key := fmt.Sprintf("vidbot:rl:%s:%s", requesterFrom(c), window)

		ctx := c.Context()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			// Redis being down should not take submissions down with it.
			return c.Next()
		}
		if count == 1 {
			// First hit in this window; set TTL
			_ = rdb.Expire(ctx, key, time.Minute)
		}

		if count > int64(cfg.RateLimit.SubmitPerMinute) {
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
				Success: false,
				Code:    "RATE_LIMIT_EXCEEDED",
				Error:   "Rate limit exceeded, try again later",
			})
		}

		return c.Next()
	}
}
