package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts handled HTTP requests by route group.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formforge_http_requests_total",
		Help: "HTTP requests handled, by method, route group and status",
	}, []string{"method", "path", "status"})

	// RequestDuration records request latencies by route group.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "formforge_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route group",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	// ReadinessStatus is 1 when a component is healthy, 0 otherwise.
	ReadinessStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "formforge_readiness_status",
		Help: "Readiness status of FormForge components (1=ok, 0=error)",
	}, []string{"component"})
)

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// routeGroup collapses paths to their first two segments so response
// and form ids never explode the label space.
func routeGroup(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) >= 2 {
		return "/" + parts[0] + "/" + parts[1]
	}
	return "/" + parts[0]
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		group := routeGroup(r.URL.Path)
		RequestsTotal.WithLabelValues(r.Method, group, strconv.Itoa(rec.status)).Inc()
		RequestDuration.WithLabelValues(r.Method, group).Observe(time.Since(start).Seconds())
	})
}
