// Package metrics provides Prometheus metrics for the rebate portal backend.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconciliationsTotal tracks reconcile runs by year and result
	ReconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rebates",
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Total number of reconcile runs by result",
		},
		[]string{"year", "result"},
	)

	// MatchAnomaliesTotal tracks records the matcher dropped or could not pair
	MatchAnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rebates",
			Subsystem: "reconcile",
			Name:      "match_anomalies_total",
			Help:      "Total number of match anomalies by kind and stage",
		},
		[]string{"kind", "stage"},
	)

	// GuardedMutationsTotal tracks create/save/delete requests by outcome
	GuardedMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rebates",
			Subsystem: "mutation",
			Name:      "requests_total",
			Help:      "Total number of guarded mutations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// BackendCallDuration tracks calls to formio and the BAP mirror
	BackendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rebates",
			Subsystem: "backend",
			Name:      "call_duration_seconds",
			Help:      "Duration of backend calls in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"backend", "operation", "result"},
	)

	// HTTPRequestDuration tracks API latency by matched route
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rebates",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// ObserveBackendCall records the duration of a backend call started at start.
func ObserveBackendCall(backend, operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	BackendCallDuration.WithLabelValues(backend, operation, result).Observe(time.Since(start).Seconds())
}
