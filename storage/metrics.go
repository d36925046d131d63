package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cleanRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pakfs",
		Subsystem: "storage",
		Name:      "clean_runs_total",
		Help:      "Number of garbage collection runs started.",
	})

	objectsRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pakfs",
		Subsystem: "storage",
		Name:      "clean_objects_removed_total",
		Help:      "Number of objects removed by the garbage collector.",
	})

	publishRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pakfs",
		Subsystem: "storage",
		Name:      "publish_retries_total",
		Help:      "Number of retried object writes during publishing.",
	})
)
