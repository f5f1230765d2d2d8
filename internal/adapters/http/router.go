package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/nimbuspos/dispatchboard/internal/pkg/metrics"
)

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip)
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// Request ID
	app.Use(requestid.New())

	// Propagate request ID into slog context
	app.Use(RequestIDLogMiddleware())

	// Access logs (structured HTTP request logging)
	app.Use(AccessLogMiddleware())

	// Rate limiting: 240 requests per minute per IP. Dashboards poll
	// frequently, so this sits well above the normal rate.
	app.Use(limiter.New(limiter.Config{
		Max:        240,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{
				"error":   "rate limit exceeded",
				"message": "too many requests, please try again later",
			})
		},
		SkipFailedRequests: false,
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	// ETag for conditional caching
	app.Use(ETagMiddleware())

	// Default Cache-Control headers
	app.Use(CachingMiddleware())

	// Health & readiness (no timeout — fast internal checks)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	// REST API v1 — 15s per-request timeout
	v1 := app.Group("/v1")
	v1.Get("/riders", timeout.NewWithContext(ListRidersHandler(deps), 15*time.Second))
	v1.Get("/riders/:id", timeout.NewWithContext(GetRiderHandler(deps), 15*time.Second))
	v1.Get("/riders/:id/history", timeout.NewWithContext(RiderHistoryHandler(deps), 15*time.Second))
	v1.Get("/orders/pending", timeout.NewWithContext(PendingOrdersHandler(deps), 15*time.Second))
	v1.Get("/orders/events", timeout.NewWithContext(OrderEventsHandler(deps), 15*time.Second))
	v1.Get("/orders/alerts", timeout.NewWithContext(AlertStateHandler(deps), 15*time.Second))
	v1.Post("/orders/alerts/mute", timeout.NewWithContext(MuteAlertHandler(deps), 15*time.Second))
	v1.Post("/orders/alerts/interaction", timeout.NewWithContext(MarkInteractionHandler(deps), 15*time.Second))
	v1.Post("/orders/:id/accept", timeout.NewWithContext(AcceptOrderHandler(deps), 15*time.Second))
	v1.Post("/orders/:id/reject", timeout.NewWithContext(RejectOrderHandler(deps), 15*time.Second))
	v1.Get("/feed/status", timeout.NewWithContext(FeedStatusHandler(deps), 15*time.Second))
	v1.Post("/feed/refresh", timeout.NewWithContext(FeedRefreshHandler(deps), 60*time.Second))

	// GraphQL
	app.Post("/graphql", GraphQLHandler(deps))

	// API documentation (Swagger UI)
	SetupDocs(app)

	// WebSocket: live dashboard view sessions
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps)))
}
