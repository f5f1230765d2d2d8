package telemetry

// SLI metric names used for instrumentation.
const (
	// Latency
	MetricAPILatencyP50 = "api.latency.p50"
	MetricAPILatencyP95 = "api.latency.p95"
	MetricAPILatencyP99 = "api.latency.p99"

	// Throughput
	MetricRequestsPerSec = "api.requests_per_second"

	// Data freshness
	MetricFeedLag         = "feed.message_lag_seconds"
	MetricSnapshotAge     = "snapshot.age_seconds"
	MetricPositionLatency = "tracking.position_latency"

	// Availability
	MetricUptime        = "service.uptime_percentage"
	MetricFeedConnected = "feed.connected_ratio"

	// Business
	MetricOrdersAccepted = "business.orders_accepted"
	MetricOrdersRejected = "business.orders_rejected"
)
