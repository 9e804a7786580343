package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestLabels = []string{"path", "method", "status"}

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zord",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route pattern, method and status.",
	}, requestLabels)

	// Streams can run for minutes, so the buckets reach past DefBuckets.
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zord",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, requestLabels)

	httpInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "zord",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Requests currently being served.",
	})

	backpressureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zord",
		Subsystem: "http",
		Name:      "rejections_total",
		Help:      "Requests answered 429 or 503, by reason.",
	}, []string{"reason"})
)

// MetricsMiddleware records request counters. The path label is read after
// routing so it carries the chi route pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInflight.Inc()
		defer httpInflight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{
			"path":   routePatternOrPath(r),
			"method": r.Method,
			"status": strconv.Itoa(status),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}

// routePatternOrPath groups unmatched requests under one label.
func routePatternOrPath(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return r.URL.Path
	}
	if p := rc.RoutePattern(); p != "" {
		return p
	}
	return "unmatched"
}

// IncrementBackpressure counts a 429 or 503 answer.
func IncrementBackpressure(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	backpressureTotal.WithLabelValues(reason).Inc()
}

func countBackpressure(status int, err error) {
	if status != http.StatusTooManyRequests && status != http.StatusServiceUnavailable {
		return
	}
	var reason string
	if re, ok := err.(interface{ Reason() string }); ok {
		reason = re.Reason()
	}
	IncrementBackpressure(reason)
}
