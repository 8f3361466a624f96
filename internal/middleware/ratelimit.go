package middleware

import (
	"hermes/server/internal/apperr"
	"hermes/server/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimits builds limiters per route class. Each call returns a limiter
// with its own counters.
type RateLimits struct {
	cfg config.LimitsConfig
}

func NewRateLimits(cfg config.LimitsConfig) *RateLimits {
	return &RateLimits{cfg: cfg}
}

// Auth guards register, login and account removal.
func (r *RateLimits) Auth() fiber.Handler { return r.handler(r.cfg.Auth) }

// Send guards the REST message sends.
func (r *RateLimits) Send() fiber.Handler { return r.handler(r.cfg.Send) }

func (r *RateLimits) Write() fiber.Handler { return r.handler(r.cfg.Write) }

func (r *RateLimits) Read() fiber.Handler { return r.handler(r.cfg.Read) }

func (r *RateLimits) Upload() fiber.Handler { return r.handler(r.cfg.Upload) }

func (r *RateLimits) handler(l config.Limit) fiber.Handler {
	if !r.cfg.Enabled || l.Max <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        l.Max,
		Expiration: l.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			// Authenticated callers are limited per identity, the rest per IP
			if username := GetUsername(c); username != "" {
				return "user:" + username
			}
			return "ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "Too many requests, please try again later",
				"code":    apperr.CodeRateLimited,
			})
		},
	})
}
