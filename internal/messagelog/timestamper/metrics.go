package timestamper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tsaRequestsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "messagelog",
			Subsystem: "timestamper",
			Name:      "tsa_requests_total",
			Help:      "Total requests sent to time-stamping authorities.",
		},
		[]string{"url", "outcome"}, // outcome: "ok", "timeout", "unreachable", "malformed", "rejected"
	)

	tsaRequestDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "messagelog",
			Subsystem: "timestamper",
			Name:      "tsa_request_duration_seconds",
			Help:      "Duration of time-stamping requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"url"},
	)

	batchSizeHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "messagelog",
			Subsystem: "timestamper",
			Name:      "batch_size",
			Help:      "Number of records per time-stamping task.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	tasksCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "messagelog",
			Subsystem: "timestamper",
			Name:      "tasks_total",
			Help:      "Total time-stamping tasks by result.",
		},
		[]string{"result"},
	)

	malformedResponsesCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "messagelog",
			Subsystem: "timestamper",
			Name:      "malformed_responses_total",
			Help:      "Malformed responses received from time-stamping authorities.",
		},
	)
)
