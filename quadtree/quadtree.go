package quadtree

import (
	"math"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/geosphere/quadtile/featureflag"
	"github.com/geosphere/quadtile/models"
)

// Scheduler starts asynchronous tile content loads. Implementations must not
// block: the load runs in the background and reports its result through the
// tile itself, to be observed by a later update pass.
type Scheduler interface {
	Schedule(t *models.Tile)
}

const (
	defaultMaxZoom                = 19
	defaultInactiveTileTimeout    = time.Second
	defaultBootstrapZoom          = 3
	defaultHighestTerrainAltitude = 9_000
)

// Options configures a quadtree map.
type Options struct {
	// The policy of the map specialization. Required.
	Policy Policy

	// The scheduler that runs tile content loads. Required.
	Scheduler Scheduler

	// The width of the pre-seeded tile grid. Ignored when Dynamic is set.
	NTiles int

	// The zoom level of the pre-seeded tile grid.
	Zoom int

	// The deepest zoom level tiles subdivide to.
	MaxZoom int

	// Start from a single root tile instead of a pre-seeded grid.
	Dynamic bool

	// How long a fully inactive, childless sibling group survives before
	// eviction.
	InactiveTileTimeout time.Duration

	// Zoom levels below this are always treated as visible at maximal screen
	// size so the quadtree keeps a minimal global root structure.
	BootstrapZoom int

	// The altitude bound used for horizon occlusion until tile content
	// provides a tighter one.
	DefaultHighestAltitude float64

	FeatureFlags featureflag.FeatureFlag

	// Receives tile population stats when they change.
	StatsObserver StatsObserver

	// The time source. Defaults to time.Now.
	Now func() time.Time
}

// Map is a quadtree of globe tiles that decides, once per frame and per
// active viewport, which tiles must be resident, at what resolution and in
// what activation state.
//
// Update passes are synchronous and must not overlap for the same map. Tile
// content loads complete in the background; a pass simply observes whatever
// state they left behind.
type Map struct {
	policy    Policy
	scheduler Scheduler
	cache     *models.TileCache

	nTiles              int
	zoom                int
	maxZoom             int
	dynamic             bool
	inactiveTileTimeout time.Duration
	bootstrapZoom       int
	defaultAltitude     float64

	horizonCulling bool
	evictTiles     bool
	eagerEviction  bool

	observer StatsObserver
	now      func() time.Time

	updateMutex sync.Mutex

	statsMutex sync.RWMutex
	lastStats  map[models.ViewMask]Stats
}

func NewMap(opts Options) *Map {
	if opts.Policy == nil {
		panic("quadtree: map policy is required")
	}
	if opts.Scheduler == nil {
		panic("quadtree: load scheduler is required")
	}
	if opts.NTiles <= 0 {
		opts.NTiles = 1
	}
	if opts.MaxZoom <= 0 {
		opts.MaxZoom = defaultMaxZoom
	}
	if opts.InactiveTileTimeout <= 0 {
		opts.InactiveTileTimeout = defaultInactiveTileTimeout
	}
	if opts.BootstrapZoom <= 0 {
		opts.BootstrapZoom = defaultBootstrapZoom
	}
	if opts.DefaultHighestAltitude <= 0 {
		opts.DefaultHighestAltitude = defaultHighestTerrainAltitude
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Map{
		policy:              opts.Policy,
		scheduler:           opts.Scheduler,
		cache:               models.NewTileCache(),
		nTiles:              opts.NTiles,
		zoom:                opts.Zoom,
		maxZoom:             opts.MaxZoom,
		dynamic:             opts.Dynamic,
		inactiveTileTimeout: opts.InactiveTileTimeout,
		bootstrapZoom:       opts.BootstrapZoom,
		defaultAltitude:     opts.DefaultHighestAltitude,
		horizonCulling:      true,
		evictTiles:          true,
		observer:            opts.StatsObserver,
		now:                 opts.Now,
		lastStats:           make(map[models.ViewMask]Stats),
	}

	opts.FeatureFlags.IfSet(featureflag.FlagDisableHorizonCulling, func() {
		m.horizonCulling = false
	})
	opts.FeatureFlags.IfSet(featureflag.FlagDisableTileEviction, func() {
		m.evictTiles = false
	})
	opts.FeatureFlags.IfSet(featureflag.FlagEagerTileEviction, func() {
		m.eagerEviction = true
	})
	return m
}

func (m *Map) Name() string {
	return m.policy.Name()
}

// Seed activates the initial tile set for the given views: the configured
// grid, or a single root tile for a dynamic map.
func (m *Map) Seed(mask models.ViewMask) {
	if m.dynamic {
		m.ActivateTile(models.TileKey{Z: m.zoom}, mask, false)
		return
	}

	for x := 0; x < m.nTiles; x++ {
		for y := 0; y < m.nTiles; y++ {
			m.ActivateTile(models.TileKey{X: x, Y: y, Z: m.zoom}, mask, false)
		}
	}
}

// ActivateTile marks the tile as required by the views in mask, inserting it
// into the cache when absent. A fresh tile begins an asynchronous content
// load, unless useFallbackContent is set, in which case it renders
// immediately with an ancestor content and is promoted lazily.
func (m *Map) ActivateTile(key models.TileKey, mask models.ViewMask, useFallbackContent bool) *models.Tile {
	if t, ok := m.cache.GetKey(key); ok {
		t.ActivateFor(mask)

		// A tile hidden while unrequired lost its fallback state together
		// with its scene attachment. Reactivation restarts the content path,
		// otherwise the tile would stay active without anything to render.
		if !t.Loaded() && !t.IsLoading() && !t.IsCancelling() {
			if useFallbackContent {
				t.SetUsingLowResFallback(true)
				t.SetNeedsHighResPromotion(true)
				t.SetAddedToScene(true)
			} else {
				m.scheduler.Schedule(t)
			}
		}
		return t
	}

	t := models.NewTile(key, mask)
	t.SetHighestAltitude(m.defaultAltitude)
	m.cache.Set(t)
	tileActivations.WithLabelValues(m.policy.Name()).Inc()

	if useFallbackContent {
		t.SetUsingLowResFallback(true)
		t.SetNeedsHighResPromotion(true)
		t.SetAddedToScene(true)
	} else {
		m.scheduler.Schedule(t)
	}
	return t
}

// DeactivateTile clears the views in mask from the tile. With instant set,
// content of a tile that became unrequired by every view is hidden right away
// instead of waiting for the removal pass; merges use it to avoid a flash of
// overlapping geometry.
func (m *Map) DeactivateTile(key models.TileKey, mask models.ViewMask, instant bool) {
	t, ok := m.cache.GetKey(key)
	if !ok {
		return
	}

	remaining := t.DeactivateFor(mask, m.now())
	if instant && remaining == 0 {
		t.RemoveFromScene()
	}
}

// Update runs one full pass for the given view. The phases run in a fixed
// order; later phases rely on the state the earlier ones establish.
func (m *Map) Update(view models.ViewState, subdivideThreshold float64) {
	if !view.Valid() {
		logs.WithTag("map", m.policy.Name()).
			Debug("skipping update pass with invalid view state")
		return
	}

	m.updateMutex.Lock()
	defer m.updateMutex.Unlock()

	start := time.Now()

	m.collectStats(view.Mask)
	m.cancelStaleLoads()
	if m.policy.RetainParentUntilChildrenShown() {
		m.releaseSupersededParents(view.Mask)
	}
	m.removeHiddenFromScene()
	m.evictAgedTiles()
	m.subdivideAndMerge(view, subdivideThreshold)

	updateLatency.
		WithLabelValues(m.policy.Name()).
		Observe(time.Since(start).Seconds())
}

func (m *Map) ForEachTile(fn func(*models.Tile)) {
	m.cache.ForEach(fn)
}

func (m *Map) TileCount() int {
	return m.cache.Count()
}

func (m *Map) GetTile(key models.TileKey) (*models.Tile, bool) {
	return m.cache.GetKey(key)
}

// Stats returns the tile population tallied by the latest update pass for the
// given view.
func (m *Map) Stats(view models.ViewMask) (Stats, bool) {
	m.statsMutex.RLock()
	defer m.statsMutex.RUnlock()

	s, ok := m.lastStats[view]
	return s, ok
}

func (m *Map) Snapshot() MapSnapshot {
	return MapSnapshot{
		Name:      m.policy.Name(),
		TileCount: m.cache.Count(),
		Tiles:     m.cache.Snapshot(),
	}
}

func (m *Map) collectStats(view models.ViewMask) {
	var s Stats
	m.cache.ForEach(func(t *models.Tile) {
		s.Total++
		if t.ActiveViewMask() != 0 {
			s.Active++
		} else {
			s.Inactive++
		}
		if t.IsLoading() {
			s.Pending++
		}
	})

	m.statsMutex.Lock()
	last, seen := m.lastStats[view]
	changed := !seen || last != s
	if changed {
		m.lastStats[view] = s
	}
	m.statsMutex.Unlock()

	if !changed {
		return
	}

	name := m.policy.Name()
	tileCount.WithLabelValues(name, "total").Set(float64(s.Total))
	tileCount.WithLabelValues(name, "active").Set(float64(s.Active))
	tileCount.WithLabelValues(name, "inactive").Set(float64(s.Inactive))
	tileCount.WithLabelValues(name, "pending").Set(float64(s.Pending))

	if m.observer != nil {
		m.observer(view, s)
	}

	logs.WithTag("map", name).
		WithTag("view_mask", view).
		WithTag("total", s.Total).
		WithTag("active", s.Active).
		WithTag("inactive", s.Inactive).
		WithTag("pending", s.Pending).
		Debug("tile stats changed")
}

// cancelStaleLoads signals cancellation for loads whose tile is no longer
// required by any view. Cancellation is cooperative: the loader aborts at its
// next safe point and this pass never waits on it.
func (m *Map) cancelStaleLoads() {
	m.cache.ForEach(func(t *models.Tile) {
		if t.ActiveViewMask() != 0 || !t.IsLoading() {
			return
		}
		if t.CancelPendingLoad() {
			loadCancels.WithLabelValues(m.policy.Name()).Inc()
		}
	})
}

// releaseSupersededParents deactivates every parent whose four children are
// already displayed in this view. Requiring the children to be displayed, not
// merely loaded, is what prevents a visible gap when a resolved child set
// replaces its parent.
func (m *Map) releaseSupersededParents(view models.ViewMask) {
	m.cache.ForEach(func(t *models.Tile) {
		if t.Key().Z >= m.maxZoom || t.IsLoading() || !t.ActiveIn(view) {
			return
		}
		if !m.childrenShownIn(t.Key(), view) {
			return
		}
		m.DeactivateTile(t.Key(), view, true)
	})
}

// removeHiddenFromScene detaches content of tiles that no view requires
// anymore, once their children, if any, finished loading.
func (m *Map) removeHiddenFromScene() {
	m.cache.ForEach(func(t *models.Tile) {
		if !t.AddedToScene() || t.ActiveViewMask() != 0 {
			return
		}
		if !m.childrenLoadedOrAbsent(t.Key()) {
			return
		}
		t.RemoveFromScene()
		tileSceneRemovals.WithLabelValues(m.policy.Name()).Inc()
	})
}

// evictAgedTiles deletes sibling groups that stayed fully inactive and
// childless past the timeout. A group is removed atomically or not at all, so
// a parent never ends up with one to three children.
func (m *Map) evictAgedTiles() {
	if !m.evictTiles {
		return
	}

	now := m.now()
	visited := make(map[uint64]struct{})

	m.cache.ForEach(func(t *models.Tile) {
		parentKey, ok := t.Key().Parent()
		if !ok {
			return
		}
		if _, done := visited[parentKey.Packed()]; done {
			return
		}
		visited[parentKey.Packed()] = struct{}{}

		children, complete := m.children(parentKey)
		if !complete {
			return
		}

		for _, c := range children {
			if c.ActiveViewMask() != 0 || m.hasAnyChild(c.Key()) {
				return
			}
			since, inactive := c.InactiveSince()
			if !inactive {
				return
			}
			if !m.eagerEviction && now.Sub(since) < m.inactiveTileTimeout {
				return
			}
		}

		for _, c := range children {
			c.CancelPendingLoad()
			m.cache.Delete(c.Key())
			c.RemoveFromScene()
			c.DisposePayload()
			tileEvictions.WithLabelValues(m.policy.Name()).Inc()
		}

		logs.WithTag("map", m.policy.Name()).
			WithTag("parent", parentKey).
			Debug("evicted inactive tile group")
	})
}

// subdivideAndMerge is the decision pass: it evaluates visibility and screen
// size for every eligible tile, subdivides the ones that grew too large,
// merges child groups that shrank below the threshold and triggers lazy high
// resolution promotion for tiles rendering fallback content.
func (m *Map) subdivideAndMerge(view models.ViewState, subdivideThreshold float64) {
	f := newFrustum(view)

	m.cache.ForEach(func(t *models.Tile) {
		key := t.Key()

		active := t.ActiveIn(view.Mask)
		hasChildren := m.hasAnyChild(key)
		if !active && !hasChildren {
			return
		}

		visible, screenSize := m.evaluate(f, view, t)

		if visible && active &&
			t.UsingLowResFallback() && t.NeedsHighResPromotion() &&
			!t.IsLoading() && !t.IsCancelling() {
			// Cleared before scheduling so a pass cannot trigger the same
			// promotion twice. A failed load re-arms it.
			t.SetNeedsHighResPromotion(false)
			m.scheduler.Schedule(t)
			tilePromotions.WithLabelValues(m.policy.Name()).Inc()
		}

		if key.Z >= m.maxZoom {
			return
		}

		if visible && screenSize > subdivideThreshold {
			if active {
				m.subdivide(t, view.Mask)
			}
			// The merge check is skipped for a subdividing tile in this pass.
			return
		}

		if hasChildren && m.childrenActiveIn(key, view.Mask) {
			m.merge(t, view.Mask)
		}
	})
}

func (m *Map) evaluate(f frustum, view models.ViewState, t *models.Tile) (visible bool, screenSize float64) {
	if t.Key().Z < m.bootstrapZoom {
		// Bootstrap levels are forced visible at maximal size so the quadtree
		// keeps a minimal global root structure regardless of camera state.
		return true, math.MaxFloat64
	}

	s := boundingSphere(t.Key(), t.HighestAltitude())
	if !f.intersectsSphere(s) {
		return false, 0
	}
	if m.horizonCulling && horizonOccluded(view, s, t.HighestAltitude()) {
		return false, 0
	}
	return true, screenSpaceSize(view, s)
}

func (m *Map) subdivide(t *models.Tile, view models.ViewMask) {
	key := t.Key()
	useFallback := m.policy.ChildFallbackContent() && t.Loaded()

	for _, childKey := range key.Children() {
		m.ActivateTile(childKey, view, useFallback)
	}
	tileSubdivisions.WithLabelValues(m.policy.Name()).Inc()

	if m.policy.RetainParentUntilChildrenShown() {
		// The parent stays active until the release pass observes all four
		// children displayed.
		if m.childrenShownIn(key, view) {
			m.DeactivateTile(key, view, true)
		}
		return
	}

	m.DeactivateTile(key, view, false)
}

func (m *Map) merge(t *models.Tile, view models.ViewMask) {
	t.ActivateFor(view)

	// The parent may have been detached from the scene while its children
	// covered it. Reattach it, or reload it when its content is gone.
	switch {
	case t.Loaded():
		t.SetAddedToScene(true)
	case !t.IsLoading():
		m.scheduler.Schedule(t)
	}

	for _, childKey := range t.Key().Children() {
		m.DeactivateTile(childKey, view, true)
	}
	tileMerges.WithLabelValues(m.policy.Name()).Inc()
}

func (m *Map) children(key models.TileKey) (children [4]*models.Tile, complete bool) {
	complete = true
	for i, childKey := range key.Children() {
		c, ok := m.cache.GetKey(childKey)
		if !ok {
			complete = false
			continue
		}
		children[i] = c
	}
	return children, complete
}

func (m *Map) hasAnyChild(key models.TileKey) bool {
	for _, childKey := range key.Children() {
		if _, ok := m.cache.GetKey(childKey); ok {
			return true
		}
	}
	return false
}

func (m *Map) childrenActiveIn(key models.TileKey, view models.ViewMask) bool {
	children, complete := m.children(key)
	if !complete {
		return false
	}
	for _, c := range children {
		if !c.ActiveIn(view) {
			return false
		}
	}
	return true
}

func (m *Map) childrenShownIn(key models.TileKey, view models.ViewMask) bool {
	children, complete := m.children(key)
	if !complete {
		return false
	}
	for _, c := range children {
		if !c.ActiveIn(view) || !c.Loaded() || !c.AddedToScene() {
			return false
		}
	}
	return true
}

func (m *Map) childrenLoadedOrAbsent(key models.TileKey) bool {
	var present, loaded int
	for _, childKey := range key.Children() {
		c, ok := m.cache.GetKey(childKey)
		if !ok {
			continue
		}
		present++
		if c.Loaded() {
			loaded++
		}
	}
	return present == 0 || loaded == 4
}
