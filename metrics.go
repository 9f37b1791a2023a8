package respcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHits tracks responses served from the store, by entry state.
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respcache_hits_total",
			Help: "Total number of responses served from the cache",
		},
		[]string{"state"}, // "fresh" or "stale"
	)

	// cacheMisses tracks requests that had to reach the origin.
	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "respcache_misses_total",
			Help: "Total number of cache misses (fresh entry absent)",
		},
	)

	// cacheInserts tracks entries written to the store.
	cacheInserts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "respcache_inserts_total",
			Help: "Total number of responses stored in the cache",
		},
	)

	// cachePassthrough tracks origin responses delivered without caching.
	cachePassthrough = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respcache_passthrough_total",
			Help: "Total number of origin responses passed through uncached",
		},
		[]string{"reason"}, // "status" or "size"
	)
)
