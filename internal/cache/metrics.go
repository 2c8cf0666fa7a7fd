package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// cacheErrors 按后端与操作统计存储错误。
var cacheErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "peghub_cache_errors_total",
		Help: "Total number of generation store operation errors",
	},
	[]string{"backend", "operation"},
)
