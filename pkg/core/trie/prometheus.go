package trie

import "github.com/prometheus/client_golang/prometheus"

// Node cache metrics.
var (
	cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of trie node cache hits",
			Name:      "trie_cache_hits_total",
			Namespace: "statera",
		},
	)
	cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of trie node cache misses",
			Name:      "trie_cache_misses_total",
			Namespace: "statera",
		},
	)
)

func init() {
	prometheus.MustRegister(
		cacheHits,
		cacheMisses,
	)
}
