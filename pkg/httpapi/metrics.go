package httpapi

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics, following the teacher corpus's pkg/metrics package-level
// registration pattern (SPEC_FULL.md §2): request latencies by
// operation, and a count of IndexBusy responses.
var (
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "registryd_request_duration_seconds",
			Help: "HTTP request duration by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	indexPushRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registryd_index_push_retries_total",
			Help: "Count of responses that reported IndexBusy (index push retries exhausted), by operation.",
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(requestDuration, indexPushRetries)
}

// observe records a completed operation's latency and outcome.
func observe(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	requestDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}
