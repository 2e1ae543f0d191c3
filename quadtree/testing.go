package quadtree

import (
	"sync"

	"github.com/geosphere/quadtile/models"
)

// SpyPayload is a tile payload that counts how many times it was disposed.
type SpyPayload struct {
	mutex     sync.Mutex
	disposals int
}

func (p *SpyPayload) Dispose() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.disposals++
}

func (p *SpyPayload) Disposals() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.disposals
}

// ImmediateScheduler resolves every load synchronously and attaches the
// content to the scene, standing in for both the loader and the renderer.
type ImmediateScheduler struct {
	mutex    sync.Mutex
	payloads []*SpyPayload
}

func (s *ImmediateScheduler) Schedule(t *models.Tile) {
	generation := t.BeginLoad(func() {})

	payload := &SpyPayload{}
	s.mutex.Lock()
	s.payloads = append(s.payloads, payload)
	s.mutex.Unlock()

	if t.FinishLoad(generation, payload) {
		t.SetAddedToScene(true)
	}
}

func (s *ImmediateScheduler) Payloads() []*SpyPayload {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([]*SpyPayload(nil), s.payloads...)
}

// PendingLoad is a load recorded by a ManualScheduler, waiting to be resolved
// or failed by the test.
type PendingLoad struct {
	Tile       *models.Tile
	Generation uint64

	mutex     sync.Mutex
	cancelled bool
}

func (l *PendingLoad) Cancelled() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.cancelled
}

// ManualScheduler records scheduled loads without resolving them.
type ManualScheduler struct {
	mutex   sync.Mutex
	pending []*PendingLoad
}

func (s *ManualScheduler) Schedule(t *models.Tile) {
	load := &PendingLoad{Tile: t}
	load.Generation = t.BeginLoad(func() {
		load.mutex.Lock()
		load.cancelled = true
		load.mutex.Unlock()
	})

	s.mutex.Lock()
	s.pending = append(s.pending, load)
	s.mutex.Unlock()
}

func (s *ManualScheduler) Pending() []*PendingLoad {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([]*PendingLoad(nil), s.pending...)
}

// ResolveAll completes every recorded load with a fresh payload and attaches
// the content to the scene. The payloads are returned for disposal counting.
func (s *ManualScheduler) ResolveAll() []*SpyPayload {
	s.mutex.Lock()
	pending := s.pending
	s.pending = nil
	s.mutex.Unlock()

	var payloads []*SpyPayload
	for _, load := range pending {
		payload := &SpyPayload{}
		payloads = append(payloads, payload)
		if load.Tile.FinishLoad(load.Generation, payload) {
			load.Tile.SetAddedToScene(true)
		}
	}
	return payloads
}

// FailAll fails every recorded load the way the production queue does: the
// loading state is cleared and the fallback flags are re-armed so the next
// visibility pass retries.
func (s *ManualScheduler) FailAll() {
	s.mutex.Lock()
	pending := s.pending
	s.pending = nil
	s.mutex.Unlock()

	for _, load := range pending {
		if load.Tile.FailLoad(load.Generation) {
			load.Tile.SetUsingLowResFallback(true)
			load.Tile.SetNeedsHighResPromotion(true)
		}
	}
}
