package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CachingMiddleware sets Cache-Control headers on GET responses based on
// endpoint. Live dashboard data caches for seconds at most; the history
// trail is the only thing worth holding onto.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		// Only set on GET requests
		if c.Method() != "GET" {
			return err
		}

		// Don't override if already set
		if existing := c.Get("Cache-Control"); existing != "" {
			return err
		}

		path := c.Path()
		var ttl string

		switch {
		case path == "/v1/health" || path == "/v1/ready":
			ttl = "public, max-age=10" // Very short for system checks

		case path == "/metrics":
			ttl = "no-cache" // Metrics are real-time

		case path == "/graphql":
			ttl = "private, max-age=0" // GraphQL varies wildly

		case strings.HasSuffix(path, "/history"):
			ttl = "private, max-age=60" // Trail only grows; a minute is fine

		case path == "/v1/feed/status":
			ttl = "no-cache" // The status indicator must never lie

		case strings.HasPrefix(path, "/v1/orders"):
			ttl = "no-store" // Pending set changes on every decision

		case strings.HasPrefix(path, "/v1/riders"):
			ttl = "private, max-age=2" // Positions move constantly

		case strings.HasPrefix(path, "/v1/"):
			ttl = "private, max-age=10"
		}

		if ttl != "" {
			c.Set("Cache-Control", ttl)
		}

		return err
	}
}
