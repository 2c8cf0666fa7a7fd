package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peghub_worker_fetch_total",
			Help: "Intercepted requests by resource class, strategy and outcome",
		},
		[]string{"app", "class", "strategy", "outcome"},
	)

	backgroundRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peghub_worker_background_refresh_total",
			Help: "Stale-while-revalidate background refreshes by result",
		},
		[]string{"app", "result"},
	)

	lifecycleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peghub_worker_lifecycle_total",
			Help: "Worker lifecycle events",
		},
		[]string{"app", "event"},
	)

	generationsDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peghub_worker_generations_deleted_total",
			Help: "Cache generations deleted during activation",
		},
		[]string{"app"},
	)

	cacheWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peghub_worker_cache_write_failures_total",
			Help: "Best-effort cache writes that failed",
		},
		[]string{"app"},
	)
)
