package quadtree

import (
	"math"
	"testing"
	"time"

	"github.com/geosphere/quadtile/models"
	"github.com/stretchr/testify/require"
)

func testView(mask models.ViewMask) models.ViewState {
	return models.ViewState{
		Mask:           mask,
		Position:       models.Vec3{Z: 3 * GlobeRadius},
		Direction:      models.Vec3{Z: -1},
		Up:             models.Vec3{Y: 1},
		FOVY:           math.Pi / 3,
		ViewportWidth:  1280,
		ViewportHeight: 800,
		Near:           1,
		Far:            1e9,
	}
}

// awayView looks away from the globe so nothing outside the bootstrap levels
// is visible.
func awayView(mask models.ViewMask) models.ViewState {
	v := testView(mask)
	v.Direction = models.Vec3{Z: 1}
	return v
}

type testClock struct {
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func TestNewMapRequiresPolicyAndScheduler(t *testing.T) {
	require.Panics(t, func() {
		NewMap(Options{Scheduler: &ImmediateScheduler{}})
	})
	require.Panics(t, func() {
		NewMap(Options{Policy: TexturePolicy{}})
	})
}

func TestMapSeed(t *testing.T) {
	t.Run("dynamic map starts from a single root", func(t *testing.T) {
		scheduler := &ManualScheduler{}
		m := NewMap(Options{Policy: TexturePolicy{}, Scheduler: scheduler, Dynamic: true})

		m.Seed(models.ViewMain)
		require.Equal(t, 1, m.TileCount())
		require.Len(t, scheduler.Pending(), 1)

		root, ok := m.GetTile(models.TileKey{})
		require.True(t, ok)
		require.True(t, root.ActiveIn(models.ViewMain))
		require.True(t, root.IsLoading())
	})

	t.Run("static map starts from a grid", func(t *testing.T) {
		m := NewMap(Options{
			Policy:    TexturePolicy{},
			Scheduler: &ImmediateScheduler{},
			NTiles:    2,
			Zoom:      1,
		})

		m.Seed(models.ViewMain)
		require.Equal(t, 4, m.TileCount())

		tile, ok := m.GetTile(models.TileKey{X: 1, Y: 1, Z: 1})
		require.True(t, ok)
		require.True(t, tile.Loaded())
	})
}

func TestMapActivateTile(t *testing.T) {
	t.Run("fresh tile begins a load", func(t *testing.T) {
		scheduler := &ManualScheduler{}
		m := NewMap(Options{Policy: TexturePolicy{}, Scheduler: scheduler, Dynamic: true})

		tile := m.ActivateTile(models.TileKey{}, models.ViewMain, false)
		require.True(t, tile.IsLoading())
		require.False(t, tile.UsingLowResFallback())
		require.Len(t, scheduler.Pending(), 1)
	})

	t.Run("fresh tile with fallback content renders immediately", func(t *testing.T) {
		scheduler := &ManualScheduler{}
		m := NewMap(Options{Policy: TexturePolicy{}, Scheduler: scheduler, Dynamic: true})

		tile := m.ActivateTile(models.TileKey{}, models.ViewMain, true)
		require.False(t, tile.IsLoading())
		require.True(t, tile.UsingLowResFallback())
		require.True(t, tile.NeedsHighResPromotion())
		require.True(t, tile.AddedToScene())
		require.Empty(t, scheduler.Pending())
	})

	t.Run("existing tile only gains view bits", func(t *testing.T) {
		scheduler := &ManualScheduler{}
		m := NewMap(Options{Policy: TexturePolicy{}, Scheduler: scheduler, Dynamic: true})

		m.ActivateTile(models.TileKey{}, models.ViewMain, false)
		tile := m.ActivateTile(models.TileKey{}, models.ViewSecondary, true)

		require.Equal(t, models.ViewMain|models.ViewSecondary, tile.ActiveViewMask())
		require.False(t, tile.UsingLowResFallback())
		require.Len(t, scheduler.Pending(), 1)
	})

	t.Run("reactivated tile without content restarts the load", func(t *testing.T) {
		scheduler := &ManualScheduler{}
		m := NewMap(Options{Policy: TexturePolicy{}, Scheduler: scheduler, Dynamic: true})

		tile := m.ActivateTile(models.TileKey{}, models.ViewMain, true)
		m.DeactivateTile(models.TileKey{}, models.ViewMain, true)
		require.False(t, tile.UsingLowResFallback())
		require.Empty(t, scheduler.Pending())

		m.ActivateTile(models.TileKey{}, models.ViewMain, false)
		require.True(t, tile.IsLoading())
		require.Len(t, scheduler.Pending(), 1)
	})

	t.Run("reactivated tile without content re-arms fallback rendering", func(t *testing.T) {
		scheduler := &ManualScheduler{}
		m := NewMap(Options{Policy: TexturePolicy{}, Scheduler: scheduler, Dynamic: true})

		tile := m.ActivateTile(models.TileKey{}, models.ViewMain, true)
		m.DeactivateTile(models.TileKey{}, models.ViewMain, true)

		m.ActivateTile(models.TileKey{}, models.ViewMain, true)
		require.True(t, tile.UsingLowResFallback())
		require.True(t, tile.NeedsHighResPromotion())
		require.True(t, tile.AddedToScene())
		require.Empty(t, scheduler.Pending())
	})
}

func TestMapDeactivateTile(t *testing.T) {
	t.Run("instant hides the content once no view needs it", func(t *testing.T) {
		scheduler := &ImmediateScheduler{}
		m := NewMap(Options{Policy: TexturePolicy{}, Scheduler: scheduler, Dynamic: true})

		tile := m.ActivateTile(models.TileKey{}, models.ViewMain, false)
		require.True(t, tile.AddedToScene())

		m.DeactivateTile(models.TileKey{}, models.ViewMain, true)
		require.Zero(t, tile.ActiveViewMask())
		require.False(t, tile.AddedToScene())
	})

	t.Run("instant keeps the content while another view needs it", func(t *testing.T) {
		scheduler := &ImmediateScheduler{}
		m := NewMap(Options{Policy: TexturePolicy{}, Scheduler: scheduler, Dynamic: true})

		tile := m.ActivateTile(models.TileKey{}, models.ViewMain|models.ViewSecondary, false)

		m.DeactivateTile(models.TileKey{}, models.ViewMain, true)
		require.Equal(t, models.ViewSecondary, tile.ActiveViewMask())
		require.True(t, tile.AddedToScene())
	})

	t.Run("missing tile is a no-op", func(t *testing.T) {
		m := NewMap(Options{Policy: TexturePolicy{}, Scheduler: &ImmediateScheduler{}})
		m.DeactivateTile(models.TileKey{X: 5, Y: 5, Z: 5}, models.ViewMain, true)
	})
}

func TestMapUpdateSkipsInvalidView(t *testing.T) {
	m := NewMap(Options{Policy: TexturePolicy{}, Scheduler: &ImmediateScheduler{}, Dynamic: true})
	m.Seed(models.ViewMain)

	m.Update(models.ViewState{}, 1)
	require.Equal(t, 1, m.TileCount())
}

// TestMapSubdivide walks a root tile through subdivision: the four children
// appear immediately with fallback content, and the root is only released once
// every child carries its own content and is displayed.
func TestMapSubdivide(t *testing.T) {
	scheduler := &ImmediateScheduler{}
	m := NewMap(Options{
		Policy:    TexturePolicy{},
		Scheduler: scheduler,
		Dynamic:   true,
		MaxZoom:   1,
	})
	m.Seed(models.ViewMain)

	root, ok := m.GetTile(models.TileKey{})
	require.True(t, ok)
	require.True(t, root.Loaded())

	view := testView(models.ViewMain)

	m.Update(view, 1)
	require.Equal(t, 5, m.TileCount())
	for _, childKey := range (models.TileKey{}).Children() {
		child, ok := m.GetTile(childKey)
		require.True(t, ok)
		require.True(t, child.ActiveIn(models.ViewMain))
		require.True(t, child.UsingLowResFallback())
		require.True(t, child.AddedToScene())
		require.False(t, child.Loaded())
	}
	// children are not ready: the root must still cover them
	require.True(t, root.ActiveIn(models.ViewMain))
	require.True(t, root.AddedToScene())

	// second pass promotes the children to their own content
	m.Update(view, 1)
	for _, childKey := range (models.TileKey{}).Children() {
		child, _ := m.GetTile(childKey)
		require.True(t, child.Loaded())
		require.False(t, child.UsingLowResFallback())
		require.True(t, child.AddedToScene())
	}

	// a further pass observes the children displayed and releases the root
	m.Update(view, 1)
	require.Zero(t, root.ActiveViewMask())
	require.False(t, root.AddedToScene())
}

// TestMapMerge collapses four displayed children back into their parent when
// their screen size drops below the threshold.
func TestMapMerge(t *testing.T) {
	clock := newTestClock()
	scheduler := &ImmediateScheduler{}
	m := NewMap(Options{
		Policy:    TexturePolicy{},
		Scheduler: scheduler,
		Dynamic:   true,
		Now:       clock.Now,
	})

	rootKey := models.TileKey{}
	root := m.ActivateTile(rootKey, models.ViewMain, false)
	for _, childKey := range rootKey.Children() {
		m.ActivateTile(childKey, models.ViewMain, false)
	}
	m.DeactivateTile(rootKey, models.ViewMain, false)

	view := testView(models.ViewMain)
	m.Update(view, math.MaxFloat64)

	require.True(t, root.ActiveIn(models.ViewMain))
	for _, childKey := range rootKey.Children() {
		child, ok := m.GetTile(childKey)
		require.True(t, ok)
		require.Zero(t, child.ActiveViewMask())
		require.False(t, child.AddedToScene())
	}

	t.Run("repeated merge is idempotent", func(t *testing.T) {
		before := m.Snapshot()
		m.Update(view, math.MaxFloat64)
		require.ElementsMatch(t, before.Tiles, m.Snapshot().Tiles)
	})
}

// TestMapReactivatedTileRegainsContent covers a tile that was hidden before it
// ever loaded: once a later pass requires it again, it must work its way back
// to its own content instead of staying active with nothing to render.
func TestMapReactivatedTileRegainsContent(t *testing.T) {
	scheduler := &ManualScheduler{}
	m := NewMap(Options{
		Policy:    TexturePolicy{},
		Scheduler: scheduler,
		Dynamic:   true,
		MaxZoom:   1,
	})
	m.Seed(models.ViewMain)
	scheduler.ResolveAll()

	root, _ := m.GetTile(models.TileKey{})

	// hide the child before it ever carried content of its own
	childKey := models.TileKey{Z: 1}
	child := m.ActivateTile(childKey, models.ViewMain, true)
	m.DeactivateTile(childKey, models.ViewMain, true)
	require.False(t, child.UsingLowResFallback())
	require.False(t, child.Loaded())

	m.ActivateTile(childKey, models.ViewMain, true)
	require.True(t, child.UsingLowResFallback())
	require.True(t, child.NeedsHighResPromotion())
	require.True(t, child.AddedToScene())

	view := testView(models.ViewMain)
	for i := 0; i < 3; i++ {
		m.Update(view, 1)
		scheduler.ResolveAll()
	}

	require.True(t, child.Loaded())
	require.False(t, child.UsingLowResFallback())
	require.Zero(t, root.ActiveViewMask())
}

// TestMapEviction removes an aged, fully inactive sibling group atomically and
// disposes each payload exactly once.
func TestMapEviction(t *testing.T) {
	t.Run("aged group is removed", func(t *testing.T) {
		clock := newTestClock()
		scheduler := &ManualScheduler{}
		m := NewMap(Options{
			Policy:              TexturePolicy{},
			Scheduler:           scheduler,
			Dynamic:             true,
			InactiveTileTimeout: time.Second,
			Now:                 clock.Now,
		})

		for _, childKey := range (models.TileKey{}).Children() {
			m.ActivateTile(childKey, models.ViewMain, false)
		}
		payloads := scheduler.ResolveAll()
		require.Len(t, payloads, 4)

		for _, childKey := range (models.TileKey{}).Children() {
			m.DeactivateTile(childKey, models.ViewMain, false)
		}

		clock.Advance(2 * time.Second)
		m.Update(testView(models.ViewMain), math.MaxFloat64)

		require.Zero(t, m.TileCount())
		for _, payload := range payloads {
			require.Equal(t, 1, payload.Disposals())
		}
	})

	t.Run("pending load is cancelled when its group is evicted", func(t *testing.T) {
		clock := newTestClock()
		scheduler := &ManualScheduler{}
		m := NewMap(Options{
			Policy:              TexturePolicy{},
			Scheduler:           scheduler,
			Dynamic:             true,
			InactiveTileTimeout: time.Second,
			Now:                 clock.Now,
		})

		children := (models.TileKey{}).Children()
		for _, childKey := range children {
			m.ActivateTile(childKey, models.ViewMain, false)
		}

		loads := scheduler.Pending()
		require.Len(t, loads, 4)
		// three siblings resolve, the last one stays in flight
		for _, load := range loads[:3] {
			require.True(t, load.Tile.FinishLoad(load.Generation, &SpyPayload{}))
			load.Tile.SetAddedToScene(true)
		}

		for _, childKey := range children {
			m.DeactivateTile(childKey, models.ViewMain, false)
		}

		clock.Advance(2 * time.Second)
		m.Update(testView(models.ViewMain), math.MaxFloat64)

		require.Zero(t, m.TileCount())
		require.True(t, loads[3].Cancelled())
		require.True(t, loads[3].Tile.IsCancelling())
		require.False(t, loads[3].Tile.Loaded())
	})

	t.Run("group with one active sibling survives", func(t *testing.T) {
		clock := newTestClock()
		scheduler := &ManualScheduler{}
		m := NewMap(Options{
			Policy:              TexturePolicy{},
			Scheduler:           scheduler,
			Dynamic:             true,
			InactiveTileTimeout: time.Second,
			Now:                 clock.Now,
		})

		children := (models.TileKey{}).Children()
		for _, childKey := range children {
			m.ActivateTile(childKey, models.ViewMain, false)
		}
		scheduler.ResolveAll()
		for _, childKey := range children[:3] {
			m.DeactivateTile(childKey, models.ViewMain, false)
		}

		clock.Advance(2 * time.Second)
		m.Update(testView(models.ViewMain), math.MaxFloat64)
		require.Equal(t, 4, m.TileCount())
	})

	t.Run("group younger than the timeout survives", func(t *testing.T) {
		clock := newTestClock()
		scheduler := &ManualScheduler{}
		m := NewMap(Options{
			Policy:              TexturePolicy{},
			Scheduler:           scheduler,
			Dynamic:             true,
			InactiveTileTimeout: time.Second,
			Now:                 clock.Now,
		})

		for _, childKey := range (models.TileKey{}).Children() {
			m.ActivateTile(childKey, models.ViewMain, false)
		}
		scheduler.ResolveAll()
		for _, childKey := range (models.TileKey{}).Children() {
			m.DeactivateTile(childKey, models.ViewMain, false)
		}

		clock.Advance(500 * time.Millisecond)
		m.Update(testView(models.ViewMain), math.MaxFloat64)
		require.Equal(t, 4, m.TileCount())
	})
}

func TestMapCancelsStaleLoads(t *testing.T) {
	scheduler := &ManualScheduler{}
	m := NewMap(Options{Policy: TexturePolicy{}, Scheduler: scheduler, Dynamic: true})

	tile := m.ActivateTile(models.TileKey{}, models.ViewMain, false)
	m.DeactivateTile(models.TileKey{}, models.ViewMain, false)

	m.Update(testView(models.ViewMain), math.MaxFloat64)

	loads := scheduler.Pending()
	require.Len(t, loads, 1)
	require.True(t, loads[0].Cancelled())
	require.True(t, tile.IsCancelling())
}

// TestMapBootstrapLevels verifies that the first zoom levels subdivide even
// with the camera facing away from the globe, and that forcing stops past the
// bootstrap depth.
func TestMapBootstrapLevels(t *testing.T) {
	m := NewMap(Options{
		Policy:    TexturePolicy{},
		Scheduler: &ImmediateScheduler{},
		Dynamic:   true,
	})
	m.Seed(models.ViewMain)

	view := awayView(models.ViewMain)
	for i := 0; i < 4; i++ {
		m.Update(view, 1)
	}

	var maxDepth int
	m.ForEachTile(func(tile *models.Tile) {
		if tile.Key().Z > maxDepth {
			maxDepth = tile.Key().Z
		}
	})
	require.Equal(t, 3, maxDepth)
}

func TestMapElevationPolicyReleasesParentImmediately(t *testing.T) {
	scheduler := &ManualScheduler{}
	m := NewMap(Options{
		Policy:    ElevationPolicy{},
		Scheduler: scheduler,
		Dynamic:   true,
	})
	m.Seed(models.ViewMain)

	root, _ := m.GetTile(models.TileKey{})
	m.Update(testView(models.ViewMain), 1)

	require.Zero(t, root.ActiveViewMask())
	for _, childKey := range (models.TileKey{}).Children() {
		child, ok := m.GetTile(childKey)
		require.True(t, ok)
		require.True(t, child.ActiveIn(models.ViewMain))
		// elevation children never render fallback content
		require.False(t, child.UsingLowResFallback())
		require.True(t, child.IsLoading())
	}
}

// TestMapFailedLoadRetries verifies that a failed load leaves the tile in a
// state the next visibility pass naturally retries.
func TestMapFailedLoadRetries(t *testing.T) {
	scheduler := &ManualScheduler{}
	m := NewMap(Options{Policy: TexturePolicy{}, Scheduler: scheduler, Dynamic: true})
	m.Seed(models.ViewMain)

	root, _ := m.GetTile(models.TileKey{})
	scheduler.FailAll()
	require.False(t, root.IsLoading())
	require.True(t, root.NeedsHighResPromotion())

	m.Update(testView(models.ViewMain), math.MaxFloat64)

	require.Len(t, scheduler.Pending(), 1)
	require.True(t, root.IsLoading())
	require.False(t, root.NeedsHighResPromotion())
}

func TestMapRemovesHiddenTilesFromScene(t *testing.T) {
	scheduler := &ImmediateScheduler{}
	m := NewMap(Options{Policy: TexturePolicy{}, Scheduler: scheduler, Dynamic: true})

	tile := m.ActivateTile(models.TileKey{}, models.ViewMain, false)
	m.DeactivateTile(models.TileKey{}, models.ViewMain, false)
	require.True(t, tile.AddedToScene())

	m.Update(testView(models.ViewMain), math.MaxFloat64)
	require.False(t, tile.AddedToScene())
}

func TestMapStatsEmittedOnChangeOnly(t *testing.T) {
	var calls []Stats
	scheduler := &ManualScheduler{}
	m := NewMap(Options{
		Policy:    TexturePolicy{},
		Scheduler: scheduler,
		Dynamic:   true,
		StatsObserver: func(_ models.ViewMask, s Stats) {
			calls = append(calls, s)
		},
	})
	m.Seed(models.ViewMain)

	view := testView(models.ViewMain)
	m.Update(view, math.MaxFloat64)
	m.Update(view, math.MaxFloat64)
	require.Len(t, calls, 1)
	require.Equal(t, Stats{Total: 1, Active: 1, Pending: 1}, calls[0])

	m.DeactivateTile(models.TileKey{}, models.ViewMain, false)
	m.Update(view, math.MaxFloat64)
	require.Len(t, calls, 2)

	s, ok := m.Stats(models.ViewMain)
	require.True(t, ok)
	require.Equal(t, calls[1], s)
}

// TestMapStructuralInvariant checks that no partial sibling group ever
// persists across update passes.
func TestMapStructuralInvariant(t *testing.T) {
	clock := newTestClock()
	m := NewMap(Options{
		Policy:              TexturePolicy{},
		Scheduler:           &ImmediateScheduler{},
		Dynamic:             true,
		InactiveTileTimeout: 100 * time.Millisecond,
		Now:                 clock.Now,
	})
	m.Seed(models.ViewMain)

	views := []models.ViewState{
		testView(models.ViewMain),
		awayView(models.ViewMain),
	}
	for i := 0; i < 12; i++ {
		m.Update(views[i%2], 400)
		clock.Advance(50 * time.Millisecond)

		m.ForEachTile(func(tile *models.Tile) {
			parentKey, ok := tile.Key().Parent()
			if !ok {
				return
			}
			for _, siblingKey := range parentKey.Children() {
				_, present := m.GetTile(siblingKey)
				require.True(t, present, "missing sibling of %v", tile.Key())
			}
		})
	}
}
