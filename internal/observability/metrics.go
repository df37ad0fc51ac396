package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace defines the global prefix for all metrics (e.g., bifrost_...).
const namespace = "bifrost"

// lowLatencyBuckets defines custom buckets for in-process evaluations.
// Standard buckets are too coarse (starting at 5ms), so we add sub-millisecond
// resolution. Range: 0.1ms to 100ms.
var lowLatencyBuckets = []float64{.0001, .00025, .0005, .001, .0025, .005, .010, .025, .050, .100}

var (
	// -------------------------------------------------------------------------
	// RELAY (HTTP)
	// -------------------------------------------------------------------------

	// RelayReqDuration measures the latency of HTTP requests.
	// Metric: bifrost_relay_http_handling_seconds
	RelayReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in the relay",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// RelayReqTotal counts the total number of HTTP requests.
	// Metric: bifrost_relay_http_requests_total
	RelayReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in the relay",
	}, []string{"method", "path", "code"})

	// -------------------------------------------------------------------------
	// EVALUATION
	// -------------------------------------------------------------------------

	// EvalDuration measures flag evaluation latency.
	// Metric: bifrost_evaluation_handling_seconds
	EvalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "evaluation",
		Name:      "handling_seconds",
		Help:      "Time taken to evaluate a flag",
		Buckets:   lowLatencyBuckets, // Evaluations are pure in-memory work
	})

	// EvalTotal counts evaluations by outcome reason.
	// Metric: bifrost_evaluation_results_total
	EvalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "evaluation",
		Name:      "results_total",
		Help:      "Total flag evaluations by reason kind",
	}, []string{"reason"})

	// -------------------------------------------------------------------------
	// DATA SOURCE
	// -------------------------------------------------------------------------

	// SourceState reports the current data source state as a one-hot gauge
	// set. Exactly one of the labeled series is 1 at any time.
	// Metric: bifrost_source_state
	SourceState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "source",
		Name:      "state",
		Help:      "Current data source state (one-hot across the state label)",
	}, []string{"state"})

	// SourceEventsTotal counts stream events by type and handling outcome.
	// Metric: bifrost_source_events_total
	SourceEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "source",
		Name:      "events_total",
		Help:      "Total stream events received by type and outcome",
	}, []string{"type", "status"})

	// SourceReconnects counts dropped-and-retried stream connections.
	// Metric: bifrost_source_reconnects_total
	SourceReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "source",
		Name:      "reconnects_total",
		Help:      "Total stream reconnect attempts",
	})

	// -------------------------------------------------------------------------
	// LAZY-LOAD CACHE
	// -------------------------------------------------------------------------

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total lazy-load cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total lazy-load cache misses (database round trips)",
	})
)

// SetSourceState flips the one-hot state gauge to the given state.
func SetSourceState(state string) {
	for _, s := range []string{"INITIALIZING", "VALID", "INTERRUPTED", "OFF"} {
		value := 0.0
		if s == state {
			value = 1.0
		}
		SourceState.WithLabelValues(s).Set(value)
	}
}
