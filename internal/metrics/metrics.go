package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketera_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketera_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	eventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketera_events_emitted_total",
			Help: "Business events emitted by kind and aggregate notification status",
		},
		[]string{"kind", "status"},
	)

	notificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketera_notifications_published_total",
			Help: "Broker publish attempts by notification type and outcome",
		},
		[]string{"type", "outcome"},
	)

	publishConfirmDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticketera_publish_confirm_duration_seconds",
			Help:    "Time waiting for the broker to confirm a publish",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	brokerConnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketera_broker_connects_total",
			Help: "Successful broker handshakes, including lazy reconnects",
		},
	)

	deliveriesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketera_deliveries_processed_total",
			Help: "Delivery worker outcomes by channel and result",
		},
		[]string{"channel", "outcome"},
	)

	duplicateDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketera_duplicate_deliveries_total",
			Help: "Broker deliveries discarded because their idempotency key was already seen",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketera_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"client"},
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

// RecordEvent records one emitted business event and its aggregate status
func RecordEvent(kind, status string) {
	eventsEmitted.WithLabelValues(kind, status).Inc()
}

// RecordPublish records a broker publish attempt outcome
func RecordPublish(notificationType, outcome string) {
	notificationsPublished.WithLabelValues(notificationType, outcome).Inc()
}

// ObservePublishConfirm records how long a publisher confirm took
func ObservePublishConfirm(d time.Duration) {
	publishConfirmDuration.Observe(d.Seconds())
}

// RecordBrokerConnect records a successful broker handshake
func RecordBrokerConnect() {
	brokerConnects.Inc()
}

// RecordDelivery records a delivery worker outcome
func RecordDelivery(channel, outcome string) {
	deliveriesProcessed.WithLabelValues(channel, outcome).Inc()
}

// RecordDuplicateDelivery records a discarded duplicate broker delivery
func RecordDuplicateDelivery() {
	duplicateDeliveries.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(client string) {
	rateLimitRejections.WithLabelValues(client).Inc()
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

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
