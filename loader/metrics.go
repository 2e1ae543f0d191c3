package loader

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	mapLabel     = "map"
	errTypeLabel = "error_type"
)

var (
	loadsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtile_loads_scheduled",
		Help: "The number of tile loads handed to the queue.",
	}, []string{
		mapLabel,
	})

	loadsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtile_loads_completed",
		Help: "The number of tile loads applied to their tile.",
	}, []string{
		mapLabel,
	})

	loadsCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtile_loads_cancelled",
		Help: "The number of tile loads aborted by cancellation.",
	}, []string{
		mapLabel,
	})

	loadsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtile_loads_dropped",
		Help: "The number of tile loads dropped because the queue was full.",
	}, []string{
		mapLabel,
	})

	loadsStale = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtile_loads_stale",
		Help: "The number of tile load results rejected as superseded.",
	}, []string{
		mapLabel,
	})

	loadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtile_load_errors",
		Help: "The errors that occurred while loading tile content.",
	}, []string{
		mapLabel,
		errTypeLabel,
	})

	loadLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "quadtile_load_latency",
		Help: "The time to load the content of a tile.",
	}, []string{
		mapLabel,
	})

	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtile_cache_hits",
		Help: "The number of tile loads served from the disk cache.",
	}, []string{
		mapLabel,
	})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtile_cache_misses",
		Help: "The number of tile loads that went to the dataset endpoint.",
	}, []string{
		mapLabel,
	})
)

func instrumentLoadScheduled(name string) {
	loadsScheduled.With(prometheus.Labels{mapLabel: name}).Inc()
}

func instrumentLoadCompleted(name string, start time.Time) {
	loadsCompleted.With(prometheus.Labels{mapLabel: name}).Inc()
	loadLatency.With(prometheus.Labels{mapLabel: name}).Observe(time.Since(start).Seconds())
}

func instrumentLoadCancelled(name string) {
	loadsCancelled.With(prometheus.Labels{mapLabel: name}).Inc()
}

func instrumentLoadDropped(name string) {
	loadsDropped.With(prometheus.Labels{mapLabel: name}).Inc()
}

func instrumentLoadStale(name string) {
	loadsStale.With(prometheus.Labels{mapLabel: name}).Inc()
}

func instrumentLoadError(name string, err error) {
	loadErrors.With(prometheus.Labels{
		mapLabel:     name,
		errTypeLabel: errors.Type(err),
	}).Inc()
}

func instrumentCacheHit(name string) {
	cacheHits.With(prometheus.Labels{mapLabel: name}).Inc()
}

func instrumentCacheMiss(name string) {
	cacheMisses.With(prometheus.Labels{mapLabel: name}).Inc()
}
