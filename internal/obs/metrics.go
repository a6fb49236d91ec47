package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
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
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)

	authzDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_denials_total",
			Help: "Authorization denials by reason.",
		},
		[]string{"reason"},
	)

	authzBypassTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authz_superadmin_bypass_total",
		Help: "Authorization checks satisfied only by SuperAdmin bypass.",
	})
)

// Регистрация метрик в default-регистре.
func Init() {
	prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
		authzDenialsTotal, authzBypassTotal)
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AuthzDenied counts one authorization denial.
func AuthzDenied(reason string) {
	authzDenialsTotal.WithLabelValues(reason).Inc()
}

// AuthzBypassed counts one SuperAdmin bypass.
func AuthzBypassed() {
	authzBypassTotal.Inc()
}

// CanonicalPath collapses resource IDs so metric cardinality stays bounded.
// Unknown shapes pass through unchanged.
func CanonicalPath(raw string) string {
	path := raw
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" {
		return path
	}
	switch parts[1] {
	case "roles":
		// /v1/roles/:id and /v1/roles/:id/policies
		if len(parts) == 3 {
			return "/v1/roles/:id"
		}
		if len(parts) == 4 && parts[3] == "policies" {
			return "/v1/roles/:id/policies"
		}
	case "users":
		switch {
		case len(parts) == 4 && parts[3] == "roles":
			return "/v1/users/:id/roles"
		case len(parts) == 5 && parts[3] == "roles":
			return "/v1/users/:id/roles/:role_id"
		case len(parts) == 4 && parts[3] == "logout-all":
			return "/v1/users/:id/logout-all"
		}
	case "policies":
		if len(parts) == 4 && parts[3] == "active" {
			return "/v1/policies/:id/active"
		}
	case "org-units":
		if len(parts) == 4 && parts[3] == "descendants" {
			return "/v1/org-units/:id/descendants"
		}
	}
	return path
}

// Обёртка для измерения RPS/latency/в полёте.
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

// statusWriter — локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush сохраняет поддержку SSE через обёртку.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
