package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	rateLimitPrefix = "rl:otp:"
	rateLimitWindow = time.Minute
)

// IssueRateLimit caps how many codes one email address can request from an
// endpoint per minute. The client IP stands in when the body has no email.
// Redis errors fail open.
func IssueRateLimit(cache *redis.Client, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		var req struct {
			Email string `json:"email"`
		}
		_ = c.BodyParser(&req)
		subject := strings.TrimSpace(req.Email)
		if subject == "" {
			subject = c.IP()
		}
		key := rateLimitPrefix + c.Path() + ":" + subject

		ctx := c.UserContext()
		cnt, err := cache.Incr(ctx, key).Result()
		if err != nil {
			logger.Warn("rate limit check failed", "key", key, "error", err)
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(ctx, key, rateLimitWindow)
		}
		if cnt > int64(maxPerMin) {
			if ttl, err := cache.TTL(ctx, key).Result(); err == nil && ttl > 0 {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Round(time.Second).Seconds())))
			}
			return fiber.NewError(http.StatusTooManyRequests, "too many OTP requests, try again later")
		}
		return c.Next()
	}
}
