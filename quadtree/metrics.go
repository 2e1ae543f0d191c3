package quadtree

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	mapLabel   = "map"
	stateLabel = "state"
)

var (
	tileCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quadtile_tiles",
		Help: "The number of tiles in the cache per state.",
	}, []string{
		mapLabel,
		stateLabel,
	})

	tileActivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtile_tile_activations",
		Help: "The number of tiles inserted into the cache.",
	}, []string{
		mapLabel,
	})

	tileEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtile_tile_evictions",
		Help: "The number of tiles evicted from the cache.",
	}, []string{
		mapLabel,
	})

	tileSceneRemovals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtile_scene_removals",
		Help: "The number of tiles detached from the render graph.",
	}, []string{
		mapLabel,
	})

	tileSubdivisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtile_subdivisions",
		Help: "The number of tiles replaced by their four children.",
	}, []string{
		mapLabel,
	})

	tileMerges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtile_merges",
		Help: "The number of child groups collapsed back into their parent.",
	}, []string{
		mapLabel,
	})

	tilePromotions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtile_promotions",
		Help: "The number of high resolution loads triggered for tiles rendering fallback content.",
	}, []string{
		mapLabel,
	})

	loadCancels = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtile_load_cancels",
		Help: "The number of stale in-flight loads that were signalled to cancel.",
	}, []string{
		mapLabel,
	})

	updateLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "quadtile_update_latency",
		Help: "The time to run one update pass.",
	}, []string{
		mapLabel,
	})
)
