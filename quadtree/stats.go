package quadtree

import "github.com/geosphere/quadtile/models"

// Stats tallies the tile population of a map. It is diagnostic only and never
// feeds back into subdivision decisions.
type Stats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
	Pending  int `json:"pending"`
}

// StatsObserver receives the stats of an update pass. It is only called when
// the stats changed since the previous pass for the same view, which bounds
// the telemetry volume.
type StatsObserver func(view models.ViewMask, stats Stats)

// MapSnapshot is a read-only copy of a map state, used by introspection
// endpoints.
type MapSnapshot struct {
	Name      string                `json:"name"`
	TileCount int                   `json:"tile_count"`
	Tiles     []models.TileSnapshot `json:"tiles"`
}
