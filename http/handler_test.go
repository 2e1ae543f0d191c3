package http

import (
	"math"
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/geosphere/quadtile/models"
	"github.com/geosphere/quadtile/quadtree"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func newTestMap(t *testing.T) *quadtree.Map {
	t.Helper()

	m := quadtree.NewMap(quadtree.Options{
		Policy:    quadtree.TexturePolicy{},
		Scheduler: &quadtree.ImmediateScheduler{},
		Dynamic:   true,
	})
	m.Seed(models.ViewMain)
	m.Update(models.ViewState{
		Mask:           models.ViewMain,
		Position:       models.Vec3{Z: 3 * quadtree.GlobeRadius},
		Direction:      models.Vec3{Z: -1},
		Up:             models.Vec3{Y: 1},
		FOVY:           math.Pi / 3,
		ViewportWidth:  1280,
		ViewportHeight: 800,
		Near:           1,
		Far:            1e9,
	}, math.MaxFloat64)
	return m
}

func TestHandleHealthCheck(t *testing.T) {
	res := httptest.NewRecorder()
	HandleHealthCheck(res, httptest.NewRequest(nethttp.MethodGet, "/healthz", nil))
	require.Equal(t, nethttp.StatusOK, res.Code)
}

func TestHandleReadyCheck(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		res := httptest.NewRecorder()
		HandleReadyCheck(func() bool { return true })(res, httptest.NewRequest(nethttp.MethodGet, "/readyz", nil))
		require.Equal(t, nethttp.StatusOK, res.Code)
	})

	t.Run("not ready", func(t *testing.T) {
		res := httptest.NewRecorder()
		HandleReadyCheck(func() bool { return false })(res, httptest.NewRequest(nethttp.MethodGet, "/readyz", nil))
		require.Equal(t, nethttp.StatusServiceUnavailable, res.Code)
	})
}

func TestHandleVersion(t *testing.T) {
	res := httptest.NewRecorder()
	HandleVersion("1.2.3")(res, httptest.NewRequest(nethttp.MethodGet, "/version", nil))
	require.Equal(t, nethttp.StatusOK, res.Code)
	require.Equal(t, "1.2.3", res.Body.String())
}

func TestHandleStats(t *testing.T) {
	m := newTestMap(t)

	res := httptest.NewRecorder()
	HandleStats(m)(res, httptest.NewRequest(nethttp.MethodGet, "/stats", nil))
	require.Equal(t, nethttp.StatusOK, res.Code)
	require.Equal(t, "application/json", res.Header().Get("Content-Type"))

	var stats []mapStats
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &stats))
	require.Len(t, stats, 1)
	require.Equal(t, "texture", stats[0].Name)
	require.Equal(t, m.TileCount(), stats[0].TileCount)
	require.Contains(t, stats[0].Views, "main")
}

func TestHandleSnapshot(t *testing.T) {
	m := newTestMap(t)

	t.Run("all maps", func(t *testing.T) {
		res := httptest.NewRecorder()
		HandleSnapshot(m)(res, httptest.NewRequest(nethttp.MethodGet, "/snapshot", nil))
		require.Equal(t, nethttp.StatusOK, res.Code)

		var snapshots []quadtree.MapSnapshot
		require.NoError(t, json.Unmarshal(res.Body.Bytes(), &snapshots))
		require.Len(t, snapshots, 1)
		require.Equal(t, "texture", snapshots[0].Name)
		require.Len(t, snapshots[0].Tiles, m.TileCount())
	})

	t.Run("selected map", func(t *testing.T) {
		res := httptest.NewRecorder()
		HandleSnapshot(m)(res, httptest.NewRequest(nethttp.MethodGet, "/snapshot?map=texture", nil))
		require.Equal(t, nethttp.StatusOK, res.Code)
	})

	t.Run("unknown map", func(t *testing.T) {
		res := httptest.NewRecorder()
		HandleSnapshot(m)(res, httptest.NewRequest(nethttp.MethodGet, "/snapshot?map=vector", nil))
		require.Equal(t, nethttp.StatusNotFound, res.Code)
	})
}
