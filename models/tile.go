package models

import (
	"context"
	"sync"
	"time"
)

// Payload holds the content backing a tile, typically GPU and CPU resources
// such as geometry, materials and textures. Dispose releases those resources.
// A tile disposes its payload at most once.
type Payload interface {
	Dispose()
}

// Tile holds the runtime state of one globe quadrant. Tiles are owned
// exclusively by a TileCache. Their content is produced by an asynchronous
// loader whose completion may land between two update passes, so every state
// transition is guarded and load results carry the generation they were
// requested under.
type Tile struct {
	key TileKey

	mutex                 sync.RWMutex
	activeViewMask        ViewMask
	loaded                bool
	isLoading             bool
	isCancelling          bool
	addedToScene          bool
	usingLowResFallback   bool
	needsHighResPromotion bool
	inactiveSince         time.Time
	highestAltitude       float64
	generation            uint64
	payload               Payload
	cancelLoad            context.CancelFunc
}

func NewTile(key TileKey, mask ViewMask) *Tile {
	return &Tile{
		key:            key,
		activeViewMask: mask,
	}
}

func (t *Tile) Key() TileKey {
	return t.key
}

func (t *Tile) ActiveViewMask() ViewMask {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.activeViewMask
}

// ActiveIn reports whether the tile is required by any of the views in the
// given mask.
func (t *Tile) ActiveIn(mask ViewMask) bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.activeViewMask&mask != 0
}

// ActivateFor marks the tile as required by the views in the given mask and
// clears any inactivity age.
func (t *Tile) ActivateFor(mask ViewMask) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.activeViewMask |= mask
	t.inactiveSince = time.Time{}
}

// DeactivateFor clears the views in the given mask from the tile. When the
// last view bit is cleared, the tile starts aging from now. The remaining mask
// is returned.
func (t *Tile) DeactivateFor(mask ViewMask, now time.Time) ViewMask {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	wasActive := t.activeViewMask != 0
	t.activeViewMask &^= mask
	if wasActive && t.activeViewMask == 0 {
		t.inactiveSince = now
	}
	return t.activeViewMask
}

// InactiveSince returns the time the tile became unrequired by every view. ok
// is false while the tile is still active in at least one view.
func (t *Tile) InactiveSince() (since time.Time, ok bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.inactiveSince, !t.inactiveSince.IsZero()
}

func (t *Tile) Loaded() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.loaded
}

func (t *Tile) IsLoading() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.isLoading
}

func (t *Tile) IsCancelling() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.isCancelling
}

func (t *Tile) AddedToScene() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.addedToScene
}

func (t *Tile) SetAddedToScene(v bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.addedToScene = v
}

func (t *Tile) UsingLowResFallback() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.usingLowResFallback
}

func (t *Tile) SetUsingLowResFallback(v bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.usingLowResFallback = v
}

func (t *Tile) NeedsHighResPromotion() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.needsHighResPromotion
}

func (t *Tile) SetNeedsHighResPromotion(v bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.needsHighResPromotion = v
}

func (t *Tile) HighestAltitude() float64 {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.highestAltitude
}

func (t *Tile) SetHighestAltitude(v float64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.highestAltitude = v
}

func (t *Tile) Generation() uint64 {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.generation
}

// BeginLoad puts the tile in the loading state and returns the generation the
// load runs under. A result delivered with an older generation is rejected,
// which protects a tile that was cancelled then reused from applying a stale
// load.
func (t *Tile) BeginLoad(cancel context.CancelFunc) uint64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.generation++
	t.isLoading = true
	t.isCancelling = false
	t.cancelLoad = cancel
	return t.generation
}

// FinishLoad applies a successful load result. It reports whether the result
// was accepted; a result from a superseded generation is rejected and its
// payload remains owned by the caller.
func (t *Tile) FinishLoad(generation uint64, payload Payload) bool {
	t.mutex.Lock()

	if generation != t.generation {
		t.mutex.Unlock()
		return false
	}

	previous := t.payload
	t.payload = payload
	t.loaded = true
	t.usingLowResFallback = false
	t.isLoading = false
	t.isCancelling = false
	t.cancelLoad = nil
	t.mutex.Unlock()

	if previous != nil {
		previous.Dispose()
	}
	return true
}

// FailLoad clears the loading state after a failed or aborted load so the next
// visibility pass can retry. It reports whether the tile was still on the
// given generation.
func (t *Tile) FailLoad(generation uint64) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if generation != t.generation {
		return false
	}

	t.isLoading = false
	t.isCancelling = false
	t.cancelLoad = nil
	return true
}

// CancelPendingLoad signals cooperative cancellation of the in-flight load.
// The loader aborts at its next safe point; nothing blocks on it here.
func (t *Tile) CancelPendingLoad() bool {
	t.mutex.Lock()

	if !t.isLoading || t.isCancelling {
		t.mutex.Unlock()
		return false
	}

	t.isCancelling = true
	cancel := t.cancelLoad
	t.mutex.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}

// RemoveFromScene detaches the tile content from the render graph and drops
// any fallback rendering state.
func (t *Tile) RemoveFromScene() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.addedToScene = false
	t.usingLowResFallback = false
}

func (t *Tile) Payload() Payload {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.payload
}

// DisposePayload releases the tile content. Calling it again is a no-op, so a
// payload is never disposed twice.
func (t *Tile) DisposePayload() {
	t.mutex.Lock()
	payload := t.payload
	t.payload = nil
	t.loaded = false
	t.mutex.Unlock()

	if payload != nil {
		payload.Dispose()
	}
}

// TileSnapshot is a read-only copy of a tile state, used by introspection
// endpoints.
type TileSnapshot struct {
	X                     int        `json:"x"`
	Y                     int        `json:"y"`
	Z                     int        `json:"z"`
	ActiveViewMask        uint32     `json:"active_view_mask"`
	Loaded                bool       `json:"loaded"`
	Loading               bool       `json:"loading,omitempty"`
	Cancelling            bool       `json:"cancelling,omitempty"`
	AddedToScene          bool       `json:"added_to_scene"`
	UsingLowResFallback   bool       `json:"using_low_res_fallback,omitempty"`
	NeedsHighResPromotion bool       `json:"needs_high_res_promotion,omitempty"`
	InactiveSince         *time.Time `json:"inactive_since,omitempty"`
}

func (t *Tile) Snapshot() TileSnapshot {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	s := TileSnapshot{
		X:                     t.key.X,
		Y:                     t.key.Y,
		Z:                     t.key.Z,
		ActiveViewMask:        uint32(t.activeViewMask),
		Loaded:                t.loaded,
		Loading:               t.isLoading,
		Cancelling:            t.isCancelling,
		AddedToScene:          t.addedToScene,
		UsingLowResFallback:   t.usingLowResFallback,
		NeedsHighResPromotion: t.needsHighResPromotion,
	}
	if !t.inactiveSince.IsZero() {
		since := t.inactiveSince
		s.InactiveSince = &since
	}
	return s
}
