package http

import (
	"net/http"

	"github.com/geosphere/quadtile/models"
	"github.com/geosphere/quadtile/quadtree"
	"github.com/segmentio/encoding/json"
)

// MapSource exposes the introspectable state of a tile map.
type MapSource interface {
	Name() string
	TileCount() int
	Stats(view models.ViewMask) (quadtree.Stats, bool)
	Snapshot() quadtree.MapSnapshot
}

func HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func HandleReadyCheck(readinessCheck func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !readinessCheck() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func HandleVersion(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(version))
	}
}

type mapStats struct {
	Name      string                    `json:"name"`
	TileCount int                       `json:"tile_count"`
	Views     map[string]quadtree.Stats `json:"views,omitempty"`
}

// HandleStats reports the tile count and per-view statistics of every map.
func HandleStats(maps ...MapSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := make([]mapStats, 0, len(maps))

		for _, m := range maps {
			s := mapStats{
				Name:      m.Name(),
				TileCount: m.TileCount(),
				Views:     make(map[string]quadtree.Stats),
			}
			for _, view := range models.Views {
				if viewStats, ok := m.Stats(view); ok {
					s.Views[view.String()] = viewStats
				}
			}
			stats = append(stats, s)
		}

		writeJSON(w, stats)
	}
}

// HandleSnapshot dumps the full tile state of every map, or of the single map
// selected with the map query parameter.
func HandleSnapshot(maps ...MapSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("map")

		snapshots := make([]quadtree.MapSnapshot, 0, len(maps))
		for _, m := range maps {
			if name != "" && m.Name() != name {
				continue
			}
			snapshots = append(snapshots, m.Snapshot())
		}

		if name != "" && len(snapshots) == 0 {
			http.Error(w, "map not found", http.StatusNotFound)
			return
		}

		writeJSON(w, snapshots)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
