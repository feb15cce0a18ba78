// Package telemetry exposes the coordinator's Prometheus metrics.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "requests_total",
			Help:      "Requests received, by message type and reply (ack or nack).",
		},
		[]string{"type", "reply"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relay",
			Name:      "request_duration_seconds",
			Help:      "Time from request decode to handler completion, including fan-out.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"type"},
	)

	InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "in_flight_connections",
			Help:      "Accepted connections whose handler has not finished.",
		},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "deliveries_total",
			Help:      "Outbound MULTI_MESSAGE deliveries, by kind (fanout or replay) and status.",
		},
		[]string{"kind", "status"},
	)

	BufferedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "buffered_messages_total",
			Help:      "Broadcasts appended to a disconnected participant's log.",
		},
	)

	ExpiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "expired_messages_total",
			Help:      "Buffered broadcasts dropped for falling outside the persistence window.",
		},
		[]string{"stage"},
	)

	Participants = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "participants",
			Help:      "Registered participants by connectivity.",
		},
		[]string{"state"},
	)

	PendingMessages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "pending_messages",
			Help:      "Broadcasts currently buffered across all disconnected participants.",
		},
	)

	InvariantViolations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "invariant_violations_total",
			Help:      "Lookup errors that indicate a participant handled outside its legal transitions.",
		},
	)

	AdminRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "admin_requests_total",
			Help:      "Admin HTTP requests by route and status class.",
		},
		[]string{"route", "status"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version).",
		},
		[]string{"version"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		RequestsTotal, RequestDuration, InFlight,
		DeliveriesTotal, BufferedTotal, ExpiredTotal,
		Participants, PendingMessages, InvariantViolations,
		AdminRequestsTotal, buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup.
func SetBuildInfo(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an admin handler to count requests under route.
func Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		class := strconv.Itoa(sw.status/100) + "xx"
		AdminRequestsTotal.WithLabelValues(route, class).Inc()
	})
}
