package fits

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fitswebql_frames_decoded_total",
		Help: "Total number of cube frames decoded from FITS files",
	})

	framesFromCache = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fitswebql_frames_from_cache_total",
		Help: "Total number of cube frames restored from the half-float cache",
	})

	ingestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fitswebql_ingest_duration_seconds",
		Help:    "Wall-clock duration of a full cube ingestion",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1200},
	})

	ingestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitswebql_ingest_failures_total",
		Help: "Ingestions aborted by I/O or header errors",
	}, []string{"reason"})

	cacheWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fitswebql_halfcache_writes_total",
		Help: "Half-float cache files written",
	})
)
