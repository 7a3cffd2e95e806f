package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigatile_cache_hits_total",
			Help: "Cache lookups that found an entry",
		},
		[]string{"cache"},
	)

	misses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigatile_cache_misses_total",
			Help: "Cache lookups that found nothing",
		},
		[]string{"cache"},
	)

	evictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigatile_cache_evictions_total",
			Help: "Entries evicted to stay within capacity",
		},
		[]string{"cache"},
	)

	backendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigatile_cache_backend_errors_total",
			Help: "Backend failures absorbed by falling back to direct computation",
		},
		[]string{"cache"},
	)
)
