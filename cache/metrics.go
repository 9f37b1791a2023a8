package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storeErrors tracks backend failures. Failures are invisible to the
// middleware (a failed lookup is just a miss), so the counter is the
// only place they surface.
var storeErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "respcache_store_errors_total",
		Help: "Total number of cache store backend errors",
	},
	[]string{"backend", "operation"},
)
