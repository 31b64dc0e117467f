package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method"},
	)

	DeliveriesRequestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deliveries_requested_total",
			Help: "Total number of delivery requests created",
		},
	)

	DeliveriesAcceptedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deliveries_accepted_total",
			Help: "Total number of delivery requests accepted by drivers",
		},
	)

	DeliveriesCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deliveries_completed_total",
			Help: "Total number of deliveries marked DELIVERED",
		},
	)

	DeliveriesExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deliveries_expired_total",
			Help: "Total number of delivery requests cancelled by the expiry sweep",
		},
	)

	EscrowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_transitions_total",
			Help: "Escrow status transitions by resulting status",
		},
		[]string{"status"},
	)

	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Payment gateway calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	RealtimePublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_publish_total",
			Help: "Realtime fan-out publishes by outcome",
		},
		[]string{"outcome"},
	)
)

func Register() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DeliveriesRequestedTotal,
		DeliveriesAcceptedTotal,
		DeliveriesCompletedTotal,
		DeliveriesExpiredTotal,
		EscrowTransitionsTotal,
		GatewayRequestsTotal,
		RealtimePublishTotal,
	)
}

// InstrumentHandler wraps an HTTP handler with request count/duration
// collection under the given handler label.
func InstrumentHandler(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		handler(wrapped, r)
		HTTPRequestDuration.WithLabelValues(name, r.Method).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(name, r.Method, strconv.Itoa(wrapped.status)).Inc()
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
