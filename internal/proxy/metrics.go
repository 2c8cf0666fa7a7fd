package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// proxyRequestsTotal 按响应来源统计：worker 给出的响应、透传上游、失败。
var proxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "peghub_proxy_requests_total",
	Help: "Requests answered by the HTTP front, by app and source.",
}, []string{"app", "source"})
