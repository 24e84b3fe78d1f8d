package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type engineMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

type rpcMetrics struct {
	requests *prometheus.CounterVec
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *engineMetrics

	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics
)

// Engine returns the lazily-initialised metrics registry tracking custody
// protocol operations.
func Engine() *engineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &engineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrowd",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Custody protocol operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "escrowd",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for custody protocol operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
		}
		prometheus.MustRegister(engineRegistry.operations, engineRegistry.latency)
	})
	return engineRegistry
}

// Observe records one operation invocation.
func (m *engineMetrics) Observe(op string, err error, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(took.Seconds())
}

// RPC returns the metrics registry tracking JSON-RPC traffic.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrowd",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
		}
		prometheus.MustRegister(rpcRegistry.requests)
	})
	return rpcRegistry
}

// Record increments the request counter for a method.
func (m *rpcMetrics) Record(method, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
}
