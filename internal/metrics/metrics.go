package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	dispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_dispatches_total",
			Help: "Completed dispatches by final notification status",
		},
		[]string{"status"},
	)

	dispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cascade_dispatch_duration_seconds",
			Help:    "Time to run one dispatch end to end",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 2, 5, 10},
		},
	)

	channelAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_channel_attempts_total",
			Help: "Channel attempts by channel and outcome",
		},
		[]string{"channel", "status"},
	)

	channelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_channel_latency_seconds",
			Help:    "Adapter call latency by channel",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"channel"},
	)

	channelsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_channels_skipped_total",
			Help: "Routed channels skipped because no adapter is registered",
		},
		[]string{"channel"},
	)

	persistenceErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_persistence_errors_total",
			Help: "Dispatches aborted because the audit store failed",
		},
	)

	unrecordedDispatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_sqs_unrecorded_dispatches_total",
			Help: "Queued requests dropped after channels were tried but the outcome was not recorded",
		},
	)

	requestsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_requests_enqueued_total",
			Help: "Dispatch requests enqueued for async processing by event type",
		},
		[]string{"event_type"},
	)

	sqsMessagesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cascade_sqs_messages_in_flight",
			Help: "Current messages being processed from SQS",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_idempotency_hits_total",
			Help: "Requests served from idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_circuit_breaker_transitions_total",
			Help: "Circuit breaker state changes by channel and new state",
		},
		[]string{"channel", "state"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cascade_db_connections_active",
			Help: "Active database connections",
		},
	)

	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cascade_redis_connections_active",
			Help: "Active Redis connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDispatch records the final status and duration of one dispatch.
func RecordDispatch(status string, duration time.Duration) {
	dispatchesTotal.WithLabelValues(status).Inc()
	dispatchDuration.Observe(duration.Seconds())
}

// RecordChannelAttempt records one adapter call.
func RecordChannelAttempt(channel, status string, latency time.Duration) {
	channelAttemptsTotal.WithLabelValues(channel, status).Inc()
	channelLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

// RecordChannelSkipped records a routed channel with no adapter.
func RecordChannelSkipped(channel string) {
	channelsSkipped.WithLabelValues(channel).Inc()
}

func RecordPersistenceError() {
	persistenceErrors.Inc()
}

// RecordUnrecordedDispatch counts a queued request dropped without a
// finalized audit record.
func RecordUnrecordedDispatch() {
	unrecordedDispatches.Inc()
}

// RecordRequestEnqueued records a request handed to the async queue
func RecordRequestEnqueued(eventType string) {
	requestsEnqueued.WithLabelValues(eventType).Inc()
}

// SetSQSMessagesInFlight sets the current in-flight message count
func SetSQSMessagesInFlight(count int) {
	sqsMessagesInFlight.Set(float64(count))
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// RecordBreakerTransition records a circuit breaker state change
func RecordBreakerTransition(channel, state string) {
	breakerTransitions.WithLabelValues(channel, state).Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// SetRedisConnections sets active Redis connection count
func SetRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics. The path
// label is the matched chi route pattern so IDs do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, routePattern(r), wrapped.status, time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
