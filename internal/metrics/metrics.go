package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestCounter counts all HTTP requests with labels
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	// RequestDurationHistogram records request duration in seconds
	RequestDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)

	OrdersCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders created, by committed header status",
		},
		[]string{"status"},
	)

	UnitTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unit_transitions_total",
			Help: "Ordered unit transition attempts by target status and result",
		},
		[]string{"status", "result"},
	)

	WalletOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_operations_total",
			Help: "Wallet ledger entries written, by kind",
		},
		[]string{"kind"},
	)

	HookFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "post_commit_hook_failures_total",
			Help: "Best-effort post-commit hooks that returned an error",
		},
		[]string{"hook"},
	)
)

// Register adds every collector to reg. Call once per process.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		RequestCounter,
		RequestDurationHistogram,
		OrdersCreated,
		UnitTransitions,
		WalletOperations,
		HookFailures,
	)
}

// Middleware records request count and latency labelled by chi route pattern.
func Middleware(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				path = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			statusStr := strconv.Itoa(status)
			RequestCounter.WithLabelValues(service, r.Method, path, statusStr).Inc()
			RequestDurationHistogram.WithLabelValues(service, r.Method, path, statusStr).Observe(time.Since(start).Seconds())
		})
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
