package loader

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/geosphere/quadtile/models"
	"github.com/google/uuid"
)

const (
	defaultWorkerCount = 4
	defaultCapacity    = 256
)

type task struct {
	id         string
	tile       *models.Tile
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc
}

// Queue schedules tile loads onto a pool of workers. It satisfies the
// scheduler the quadtree map expects: Schedule is called from the update pass
// and never blocks. When the queue is saturated the request is dropped and the
// tile is rearmed so a later pass retries it.
type Queue struct {
	Name     string
	Producer Producer
	Workers  int
	Capacity int

	// OnLoaded is called after a load result has been applied to the tile.
	OnLoaded func(t *models.Tile)

	ctx   context.Context
	tasks chan task
	wg    sync.WaitGroup
}

func NewQueue(name string, producer Producer) *Queue {
	return &Queue{
		Name:     name,
		Producer: producer,
	}
}

// Start launches the worker pool. Workers drain until ctx is cancelled. A
// Schedule before Start is postponed the same way a saturated queue is.
func (q *Queue) Start(ctx context.Context) {
	workers := q.Workers
	if workers <= 0 {
		workers = defaultWorkerCount
	}
	capacity := q.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}

	q.ctx = ctx
	q.tasks = make(chan task, capacity)

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.work()
	}

	logs.WithTag("map", q.Name).
		WithTag("workers", workers).
		WithTag("capacity", capacity).
		Debug("tile load queue started")
}

// Wait blocks until every worker has returned.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Schedule puts the tile in the loading state and enqueues its load. The load
// runs under a generation and a cancellable context, so cancelling the tile or
// superseding the load leaves no trace.
func (q *Queue) Schedule(t *models.Tile) {
	if q.tasks == nil {
		rearmForRetry(t)
		instrumentLoadDropped(q.Name)
		logs.WithTag("map", q.Name).
			WithTag("tile", t.Key()).
			Warn("tile load scheduled before the queue started, load postponed")
		return
	}

	ctx, cancel := context.WithCancel(q.ctx)
	tk := task{
		id:         uuid.NewString(),
		tile:       t,
		generation: t.BeginLoad(cancel),
		ctx:        ctx,
		cancel:     cancel,
	}

	select {
	case q.tasks <- tk:
		instrumentLoadScheduled(q.Name)

	default:
		cancel()
		t.FailLoad(tk.generation)
		rearmForRetry(t)
		instrumentLoadDropped(q.Name)
		logs.WithTag("map", q.Name).
			WithTag("tile", t.Key()).
			Warn("tile load queue is full, load postponed")
	}
}

func (q *Queue) work() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return

		case tk := <-q.tasks:
			q.load(tk)
		}
	}
}

func (q *Queue) load(tk task) {
	defer tk.cancel()

	start := time.Now()
	payload, err := q.Producer.LoadContent(tk.ctx, tk.tile.Key())

	switch {
	case tk.ctx.Err() != nil:
		if payload != nil {
			payload.Dispose()
		}
		tk.tile.FailLoad(tk.generation)
		rearmForRetry(tk.tile)
		instrumentLoadCancelled(q.Name)
		logs.WithTag("map", q.Name).
			WithTag("task_id", tk.id).
			WithTag("tile", tk.tile.Key()).
			Debug("tile load cancelled")

	case err != nil:
		tk.tile.FailLoad(tk.generation)
		rearmForRetry(tk.tile)
		instrumentLoadError(q.Name, err)
		logs.Warn(errors.New("loading tile content failed").
			WithTag("map", q.Name).
			WithTag("task_id", tk.id).
			WithTag("tile", tk.tile.Key()).
			Wrap(err))

	default:
		if !tk.tile.FinishLoad(tk.generation, payload) {
			payload.Dispose()
			instrumentLoadStale(q.Name)
			return
		}
		tk.tile.SetAddedToScene(true)
		instrumentLoadCompleted(q.Name, start)
		if q.OnLoaded != nil {
			q.OnLoaded(tk.tile)
		}
	}
}

// rearmForRetry marks the tile so the next visibility pass that finds it
// visible schedules the load again.
func rearmForRetry(t *models.Tile) {
	t.SetUsingLowResFallback(true)
	t.SetNeedsHighResPromotion(true)
}
