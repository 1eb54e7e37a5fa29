package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP plus compliance-domain metrics, registered once via Init.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "Whether the service currently passes its readiness probe.",
	})

	trackingInitialized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "compliance_tracking_records_initialized_total",
		Help: "Tracking records created via checklist initialization.",
	})

	remindersScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_reminders_scheduled_total",
			Help: "Reminders scheduled, by channel.",
		},
		[]string{"channel"},
	)

	remindersDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_reminders_dispatched_total",
			Help: "Reminders dispatched by the dispatch loop, by channel.",
		},
		[]string{"channel"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		ready, trackingInitialized, remindersScheduled, remindersDispatched,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the last readiness probe result.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// TrackingInitialized counts records created during checklist initialization.
func TrackingInitialized(n int) {
	trackingInitialized.Add(float64(n))
}

// ReminderScheduled counts a newly scheduled reminder.
func ReminderScheduled(channel string) {
	remindersScheduled.WithLabelValues(channel).Inc()
}

// ReminderDispatched counts a reminder handed to a delivery channel.
func ReminderDispatched(channel string) {
	remindersDispatched.WithLabelValues(channel).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE responses streaming through the instrumented wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
