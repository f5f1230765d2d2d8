package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatchboard",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dispatchboard",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	// Upstream feed metrics
	FeedConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatchboard",
		Subsystem: "feed",
		Name:      "connect_attempts_total",
		Help:      "Total streaming connection attempts, including retries",
	}, []string{"topic"})

	FeedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatchboard",
		Subsystem: "feed",
		Name:      "messages_total",
		Help:      "Total stream messages delivered to handlers",
	}, []string{"topic"})

	FeedParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatchboard",
		Subsystem: "feed",
		Name:      "parse_errors_total",
		Help:      "Total malformed stream messages dropped",
	}, []string{"topic"})

	FeedState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dispatchboard",
		Subsystem: "feed",
		Name:      "connection_state",
		Help:      "Current connection state per feed (0=disconnected 1=connecting 2=connected 3=reconnecting 4=failed)",
	}, []string{"topic"})

	// Reconciled collections
	RidersTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dispatchboard",
		Subsystem: "tracking",
		Name:      "riders_tracked",
		Help:      "Riders currently present in the reconciled collection",
	})

	OrdersPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dispatchboard",
		Subsystem: "orders",
		Name:      "pending",
		Help:      "Orders currently in the pending set",
	})

	OrderActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatchboard",
		Subsystem: "orders",
		Name:      "actions_total",
		Help:      "Accept/reject actions forwarded upstream",
	}, []string{"action", "outcome"})

	// Map view engine
	ActiveViewSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dispatchboard",
		Subsystem: "view",
		Name:      "active_sessions",
		Help:      "Dashboard WebSocket view sessions currently open",
	})

	AnimationsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatchboard",
		Subsystem: "view",
		Name:      "animations_started_total",
		Help:      "Marker animations started (updates above the snap threshold)",
	})

	SnapshotFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatchboard",
		Subsystem: "feed",
		Name:      "rest_fallbacks_total",
		Help:      "Times a feature fell back to a one-shot REST fetch",
	}, []string{"feature"})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)

		return err
	}
}

// Handler returns a Fiber handler serving the Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}
