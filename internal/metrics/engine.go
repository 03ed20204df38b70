package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	engineOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "datagate",
			Name:      "engine_operation_duration_seconds",
			Help:      "Engine operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "collection", "outcome"},
	)

	engineOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datagate",
			Name:      "engine_operations_total",
			Help:      "Total number of engine operations",
		},
		[]string{"operation", "collection", "outcome"},
	)

	cacheEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datagate",
			Name:      "cache_events_total",
			Help:      "Result cache hits and misses",
		},
		[]string{"event"},
	)
)

func init() {
	prometheus.MustRegister(engineOperationDuration)
	prometheus.MustRegister(engineOperationsTotal)
	prometheus.MustRegister(cacheEventsTotal)
}

// ObserveOperation records one engine operation.
func ObserveOperation(operation, collection string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	engineOperationDuration.WithLabelValues(operation, collection, outcome).
		Observe(time.Since(start).Seconds())
	engineOperationsTotal.WithLabelValues(operation, collection, outcome).Inc()
}

// CacheHit and CacheMiss record result cache effectiveness.
func CacheHit()  { cacheEventsTotal.WithLabelValues("hit").Inc() }
func CacheMiss() { cacheEventsTotal.WithLabelValues("miss").Inc() }
