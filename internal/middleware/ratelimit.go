package middleware

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP)
	GlobalAPIMax        int
	GlobalAPIExpiration time.Duration

	// Chat limits (per session) - every chat turn can hit the LLM
	ChatMax        int
	ChatExpiration time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		// Global: 200/min = ~3.3 req/sec - very generous for normal use
		GlobalAPIMax:        200,
		GlobalAPIExpiration: 1 * time.Minute,

		// Chat: 30/min per session (expensive LLM operation)
		ChatMax:        30,
		ChatExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig loads config from environment variables with defaults
func LoadRateLimitConfig() *RateLimitConfig {
	config := DefaultRateLimitConfig()

	if v := os.Getenv("RATE_LIMIT_GLOBAL_API"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.GlobalAPIMax = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_CHAT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.ChatMax = n
		}
	}

	// Development mode: more lenient limits
	if os.Getenv("ENVIRONMENT") == "development" {
		config.GlobalAPIMax = 1000
		config.ChatMax = 300
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return config
}

// GlobalAPIRateLimiter creates a rate limiter for all API requests
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalAPIMax,
		Expiration: config.GlobalAPIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(config.GlobalAPIExpiration.Seconds()),
			})
		},
	})
}

// ChatRateLimiter limits chat turns per session, falling back to the
// client IP for requests without a session id.
func ChatRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.ChatMax,
		Expiration: config.ChatExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			var body struct {
				SessionID string `json:"sessionId"`
			}
			if err := c.BodyParser(&body); err == nil && body.SessionID != "" {
				return "chat:" + body.SessionID
			}
			return "chat:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("⚠️  [RATE-LIMIT] Chat limit reached for %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many chat requests for this session.",
				"retry_after": int(config.ChatExpiration.Seconds()),
			})
		},
	})
}
