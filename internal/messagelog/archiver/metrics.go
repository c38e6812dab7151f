package archiver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	archivedRecordsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "messagelog",
			Subsystem: "archiver",
			Name:      "records_total",
			Help:      "Total message records archived.",
		},
	)

	archiveFilesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "messagelog",
			Subsystem: "archiver",
			Name:      "files_total",
			Help:      "Archive files by outcome.",
		},
		[]string{"outcome"}, // "written", "discarded", "renamed", "failed"
	)

	transferFailuresCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "messagelog",
			Subsystem: "archiver",
			Name:      "transfer_failures_total",
			Help:      "Failed archive transfers.",
		},
	)
)
