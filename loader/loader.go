// Package loader produces tile content asynchronously. A Queue takes load
// requests from the quadtree update pass, fetches the content through a
// Producer on a pool of workers and delivers the result back to the tile,
// honoring cooperative cancellation along the way.
package loader

import (
	"context"

	"github.com/geosphere/quadtile/models"
)

// Producer fetches the content of a single tile. Implementations must honor
// ctx cancellation and return its error when aborted.
type Producer interface {
	LoadContent(ctx context.Context, key models.TileKey) (models.Payload, error)
}

// ProducerFunc adapts a function to the Producer interface.
type ProducerFunc func(ctx context.Context, key models.TileKey) (models.Payload, error)

func (f ProducerFunc) LoadContent(ctx context.Context, key models.TileKey) (models.Payload, error) {
	return f(ctx, key)
}

// TilePayload is raw tile content as fetched from a dataset endpoint or the
// disk cache.
type TilePayload struct {
	Key  models.TileKey
	Data []byte
}

func (p *TilePayload) Dispose() {
	p.Data = nil
}
