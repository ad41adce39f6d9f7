// Package metrics provides Prometheus instrumentation for the pool engine.
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
	// PoolsCreated counts pools opened.
	PoolsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poolengine_pools_created_total",
		Help: "Total number of pools created",
	})

	// JoinsTotal counts successful joins, partitioned by source.
	JoinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poolengine_joins_total",
		Help: "Total number of successful joins",
	}, []string{"source"})

	// LeavesTotal counts successful withdrawals.
	LeavesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poolengine_leaves_total",
		Help: "Total number of withdrawn commitments",
	})

	// PoolsLocked counts Open → Locking transitions.
	PoolsLocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poolengine_pools_locked_total",
		Help: "Total number of pools that reached their thresholds and locked",
	})

	// PoolsTerminal counts pools reaching a terminal state, by state.
	PoolsTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poolengine_pools_terminal_total",
		Help: "Total number of pools reaching a terminal state",
	}, []string{"state"})

	// TicksTotal counts clock ticks processed.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poolengine_ticks_total",
		Help: "Total number of clock ticks processed",
	})

	// InvariantViolations counts quarantined pools.
	InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poolengine_invariant_violations_total",
		Help: "Ledger invariant violations detected (pool quarantined)",
	})

	// SettlementOrders counts settlement order outcomes, by result.
	SettlementOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poolengine_settlement_orders_total",
		Help: "Settlement order creation outcomes",
	}, []string{"result"}) // "success", "transient", "permanent"

	// SettlementDuration tracks how long settling a pool takes.
	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "poolengine_settlement_duration_seconds",
		Help:    "Time to settle a pool end to end",
		Buckets: prometheus.DefBuckets,
	})

	// AutoJoins counts joins issued by the auto-enrollment matcher, by result.
	AutoJoins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poolengine_auto_joins_total",
		Help: "Auto-enrollment join attempts",
	}, []string{"result"}) // "joined", "capped", "rejected"

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "poolengine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poolengine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "poolengine_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
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
