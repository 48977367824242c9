// Package metrics provides Prometheus instrumentation for the ledger engine.
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
	// RecomputeBatches counts batch runs by outcome (ok, partial, error).
	RecomputeBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_recompute_batches_total",
		Help: "Total number of batch recompute runs",
	}, []string{"outcome"})

	// RecomputeDuration tracks how long a full batch takes.
	RecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_recompute_batch_duration_seconds",
		Help:    "Batch recompute duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// AccountsRecomputed counts per-account recomputes by outcome.
	AccountsRecomputed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_accounts_recomputed_total",
		Help: "Per-account balance recomputes",
	}, []string{"outcome"})

	// AccountsPruned counts accounts removed by the retention policy.
	AccountsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_accounts_pruned_total",
		Help: "Abandoned accounts deleted by the retention policy",
	})

	// AccountsTotal tracks the account count seen by the last batch.
	AccountsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_accounts",
		Help: "Number of accounts seen by the last batch",
	})

	// WalletActivations counts wallet switches by outcome.
	WalletActivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_wallet_activations_total",
		Help: "Wallet activation attempts",
	}, []string{"outcome"})

	// StoreBreakerState is 0 closed, 1 half-open, 2 open.
	StoreBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledger_store_breaker_state",
		Help: "Circuit breaker state in front of the primary store",
	}, []string{"name"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
