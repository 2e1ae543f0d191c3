// Package smoketest exercises a full tile map in-process, driving it with an
// orbiting camera and checking after every pass that the quadtree kept its
// structural guarantees. It backs the smoke-test endpoint operators use to
// verify a deployment.
package smoketest

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/geosphere/quadtile/models"
	"github.com/geosphere/quadtile/quadtree"
	"github.com/segmentio/encoding/json"
)

const (
	defaultFrames    = 24
	defaultThreshold = 256
	maxViolations    = 10
)

type Options struct {
	// The number of update passes to drive. Defaults to 24.
	Frames int

	// The screen-space size above which tiles subdivide. Defaults to 256.
	Threshold float64

	MaxZoom int
}

// Results reports the outcome of one smoke test run.
type Results struct {
	Passed     bool     `json:"passed"`
	Frames     int      `json:"frames"`
	TileCount  int      `json:"tile_count"`
	Duration   string   `json:"duration"`
	Violations []string `json:"violations,omitempty"`
}

// Run drives a texture map with an instantly resolving loader through a full
// camera orbit and validates the tile population after every pass.
func Run(ctx context.Context, opts Options) Results {
	if opts.Frames <= 0 {
		opts.Frames = defaultFrames
	}
	if opts.Threshold <= 0 {
		opts.Threshold = defaultThreshold
	}

	m := quadtree.NewMap(quadtree.Options{
		Policy:    quadtree.TexturePolicy{},
		Scheduler: &quadtree.ImmediateScheduler{},
		Dynamic:   true,
		MaxZoom:   opts.MaxZoom,
	})
	m.Seed(models.ViewMain)

	start := time.Now()
	res := Results{
		Passed: true,
		Frames: opts.Frames,
	}

	for frame := 0; frame < opts.Frames; frame++ {
		if ctx.Err() != nil {
			res.Passed = false
			res.Violations = append(res.Violations, "smoke test aborted")
			break
		}

		m.Update(orbitView(frame, opts.Frames), opts.Threshold)
		checkPass(m, frame, &res)
	}

	res.TileCount = m.TileCount()
	res.Duration = time.Since(start).String()
	return res
}

// checkPass validates the two hard guarantees of the quadtree: tiles below
// the root exist only in complete sibling groups, and every active tile
// carries content, its own or its parent fallback, and is displayed, so the
// globe never shows a hole.
func checkPass(m *quadtree.Map, frame int, res *Results) {
	m.ForEachTile(func(t *models.Tile) {
		if len(res.Violations) >= maxViolations {
			return
		}

		key := t.Key()
		if parent, ok := key.Parent(); ok {
			for _, sibling := range parent.Children() {
				if _, ok := m.GetTile(sibling); !ok {
					res.Passed = false
					res.Violations = append(res.Violations, fmt.Sprintf(
						"frame %d: tile %s misses sibling %s", frame, key, sibling))
					return
				}
			}
		}

		if t.ActiveIn(models.ViewMain) {
			if !t.Loaded() && !t.UsingLowResFallback() {
				res.Passed = false
				res.Violations = append(res.Violations, fmt.Sprintf(
					"frame %d: active tile %s has no content", frame, key))
				return
			}
			if !t.AddedToScene() {
				res.Passed = false
				res.Violations = append(res.Violations, fmt.Sprintf(
					"frame %d: active tile %s is not displayed", frame, key))
			}
		}
	})
}

func orbitView(frame, frames int) models.ViewState {
	angle := 2 * math.Pi * float64(frame) / float64(frames)
	position := models.Vec3{
		X: 3 * quadtree.GlobeRadius * math.Sin(angle),
		Z: 3 * quadtree.GlobeRadius * math.Cos(angle),
	}

	return models.ViewState{
		Mask:           models.ViewMain,
		Position:       position,
		Direction:      models.Mul(models.Normalized(position), -1),
		Up:             models.Vec3{Y: 1},
		FOVY:           math.Pi / 3,
		ViewportWidth:  1280,
		ViewportHeight: 800,
		Near:           1,
		Far:            1e9,
	}
}

// HandleSmokeTest runs a smoke test and responds with its results.
func HandleSmokeTest(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		res := Run(ctx, opts)
		if !res.Passed {
			logs.Warn(errors.New("smoke test failed").
				WithTag("violations", res.Violations))
		}

		body, err := json.Marshal(res)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}
