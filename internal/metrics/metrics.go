// Package metrics provides Prometheus instrumentation for the trading core.
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
	// OrdersSubmitted counts accepted orders, partitioned by side and type.
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_orders_submitted_total",
		Help: "Total orders accepted for execution",
	}, []string{"side", "type"})

	// RiskRejections counts trades the risk evaluator declined, by reason.
	RiskRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_risk_rejections_total",
		Help: "Trades rejected by the risk evaluator",
	}, []string{"reason"})

	// FillsApplied counts fills committed to the ledger.
	FillsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trading_fills_applied_total",
		Help: "Fill events applied to the position ledger",
	})

	// DuplicateFills counts redelivered fill events skipped by the
	// idempotency record.
	DuplicateFills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trading_duplicate_fills_total",
		Help: "Fill events skipped as already applied",
	})

	// InvariantViolations counts refused transitions that should never
	// occur (fill overflow, transition out of terminal state).
	InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trading_invariant_violations_total",
		Help: "Refused state transitions indicating an upstream bug",
	})

	// SubmitLatency tracks SubmitTrade end-to-end latency.
	SubmitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trading_submit_latency_seconds",
		Help:    "Trade submission latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ReconcileCycles counts reconciliation sweeps, by outcome.
	ReconcileCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_reconcile_cycles_total",
		Help: "Reconciliation worker sweeps",
	}, []string{"outcome"})

	// OpenOrders tracks the number of non-terminal orders.
	OpenOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trading_open_orders",
		Help: "Number of currently open orders",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trading_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trading_http_request_duration_seconds",
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
