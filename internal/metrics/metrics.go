// Package metrics exposes Prometheus collectors for the cluster master.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
)

// Outcome labels for node calls and store operations.
const (
	OutcomeOK           = "ok"
	OutcomeDisconnected = "disconnected"
	OutcomeError        = "error"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	nodeCallsTotal             *prometheus.CounterVec
	nodeCallDurationSeconds    *prometheus.HistogramVec
	stateStoreOpsTotal         *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		nodeCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cluster_master_node_calls_total",
				Help: "Calls made to worker nodes, labeled by call and outcome.",
			},
			[]string{"call", "outcome"},
		)

		nodeCallDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cluster_master_node_call_duration_seconds",
				Help:    "Latency of calls made to worker nodes.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"call"},
		)

		stateStoreOpsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cluster_master_state_store_operations_total",
				Help: "Backlog snapshot loads and saves, labeled by backend, operation and outcome.",
			},
			[]string{"backend", "op", "outcome"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveNodeCall records one call to a worker node.
func ObserveNodeCall(call string, err error, duration time.Duration) {
	Init()
	nodeCallsTotal.WithLabelValues(call, outcome(err)).Inc()
	nodeCallDurationSeconds.WithLabelValues(call).Observe(duration.Seconds())
}

// ObserveStateStore records one backlog load or save.
func ObserveStateStore(backend, op string, err error) {
	Init()
	out := outcome(err)
	if errors.Is(err, cluster.ErrNotFound) {
		out = OutcomeOK
	}
	stateStoreOpsTotal.WithLabelValues(backend, op, out).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, cluster.ErrDisconnected):
		return OutcomeDisconnected
	default:
		return OutcomeError
	}
}
