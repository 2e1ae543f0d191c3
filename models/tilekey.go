package models

import "fmt"

const (
	packedCoordBits = 29
	packedCoordMask = 1<<packedCoordBits - 1
	packedZoomMask  = 1<<(64-2*packedCoordBits) - 1
)

// A tile key that identifies one quadrant of the globe at one zoom level.
type TileKey struct {
	X int
	Y int
	Z int
}

// Children returns the keys of the four tiles that subdivide the tile at the
// next zoom level.
func (k TileKey) Children() [4]TileKey {
	return [4]TileKey{
		{X: k.X * 2, Y: k.Y * 2, Z: k.Z + 1},
		{X: k.X * 2, Y: k.Y*2 + 1, Z: k.Z + 1},
		{X: k.X*2 + 1, Y: k.Y * 2, Z: k.Z + 1},
		{X: k.X*2 + 1, Y: k.Y*2 + 1, Z: k.Z + 1},
	}
}

// Parent returns the key of the tile that contains the tile at the previous
// zoom level. ok is false at zoom 0, where there is no parent.
func (k TileKey) Parent() (parent TileKey, ok bool) {
	if k.Z == 0 {
		return TileKey{}, false
	}
	return TileKey{X: k.X / 2, Y: k.Y / 2, Z: k.Z - 1}, true
}

// Packed returns the key packed into a single 64 bit identifier, usable as a
// flat map or database key. X and Y use 29 bits each, which covers every zoom
// level the packing reserves 6 bits for.
func (k TileKey) Packed() uint64 {
	return uint64(k.Z)<<(2*packedCoordBits) |
		uint64(k.X&packedCoordMask)<<packedCoordBits |
		uint64(k.Y&packedCoordMask)
}

// UnpackTileKey is the inverse of TileKey.Packed.
func UnpackTileKey(id uint64) TileKey {
	return TileKey{
		X: int(id >> packedCoordBits & packedCoordMask),
		Y: int(id & packedCoordMask),
		Z: int(id >> (2 * packedCoordBits) & packedZoomMask),
	}
}

func (k TileKey) String() string {
	return fmt.Sprintf("%v/%v/%v", k.Z, k.X, k.Y)
}
