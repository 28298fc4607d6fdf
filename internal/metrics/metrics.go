// Package metrics defines the Prometheus instrumentation for strava-duel.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Strava upstream
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strava_token_refreshes_total",
			Help: "Token refresh decisions by result",
		},
		[]string{"result"}, // "skipped", "refreshed", "failed", "persist_failed"
	)

	ActivityPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strava_activity_pages_total",
			Help: "Activity listing pages requested by result",
		},
		[]string{"result"}, // "ok", "failed"
	)

	ActivitiesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strava_activities_fetched_total",
			Help: "Raw activities received, split into kept rides and discarded types",
		},
		[]string{"outcome"}, // "kept", "discarded", "invalid"
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strava_request_duration_seconds",
			Help:    "Duration of Strava API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "status"},
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected", "excluded"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Reports
	ReportBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duel_report_builds_total",
			Help: "Report builds by outcome",
		},
		[]string{"status"}, // "ready", "incomplete", "error"
	)

	ReportBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duel_report_build_duration_seconds",
			Help:    "Duration of full report builds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	PlayerTotalKm = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "duel_player_total_km",
			Help: "Latest total distance per slot and year",
		},
		[]string{"slot", "year"},
	)

	ReportCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "duel_report_cache_hits_total",
			Help: "Report cache hits",
		},
	)

	ReportCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "duel_report_cache_misses_total",
			Help: "Report cache misses",
		},
	)

	// Calendar
	CalendarSyncOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_sync_operations_total",
			Help: "Google Calendar sync operations",
		},
		[]string{"operation", "result"}, // operation: "list", "insert", "update", "delete"
	)

	// HTTP
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// RecordUpstreamRequest records one Strava HTTP round trip. status is 0
// when the request never produced a response.
func RecordUpstreamRequest(endpoint string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	UpstreamRequestDuration.WithLabelValues(endpoint, label).Observe(duration.Seconds())
}

// RecordReportBuild records a finished build.
func RecordReportBuild(status string, duration time.Duration) {
	ReportBuilds.WithLabelValues(status).Inc()
	ReportBuildDuration.Observe(duration.Seconds())
}

// RecordAPIRequest records an HTTP request served by the API.
func RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
