package models

import "sync"

// TileCache is the exclusive owner of all the tiles of one quadtree map. It is
// a flat map keyed by packed tile identifiers. A missing key is a valid,
// expected state: a child may simply not exist yet.
type TileCache struct {
	mutex sync.RWMutex
	tiles map[uint64]*Tile
}

func NewTileCache() *TileCache {
	return &TileCache{
		tiles: make(map[uint64]*Tile),
	}
}

func (c *TileCache) Get(x, y, z int) (*Tile, bool) {
	return c.GetKey(TileKey{X: x, Y: y, Z: z})
}

func (c *TileCache) GetKey(key TileKey) (*Tile, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	t, ok := c.tiles[key.Packed()]
	return t, ok
}

func (c *TileCache) Set(t *Tile) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.tiles[t.Key().Packed()] = t
}

// Delete removes the tile with the given key and returns it so the caller can
// dispose its payload. Deleting a missing key is a no-op.
func (c *TileCache) Delete(key TileKey) (*Tile, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	t, ok := c.tiles[key.Packed()]
	if ok {
		delete(c.tiles, key.Packed())
	}
	return t, ok
}

// ForEach calls fn for every tile present when the traversal starts. fn may
// mutate the cache, including deleting tiles.
func (c *TileCache) ForEach(fn func(*Tile)) {
	for _, t := range c.all() {
		fn(t)
	}
}

func (c *TileCache) all() []*Tile {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	tiles := make([]*Tile, 0, len(c.tiles))
	for _, t := range c.tiles {
		tiles = append(tiles, t)
	}
	return tiles
}

func (c *TileCache) Count() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.tiles)
}

func (c *TileCache) Snapshot() []TileSnapshot {
	tiles := c.all()

	snapshots := make([]TileSnapshot, len(tiles))
	for i, t := range tiles {
		snapshots[i] = t.Snapshot()
	}
	return snapshots
}
