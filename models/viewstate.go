package models

import "math"

// ViewState is the per-viewport input consumed by a map update pass: the
// camera from which visibility and screen sizes are derived, and the mask that
// identifies which logical viewport the pass represents.
type ViewState struct {
	Mask ViewMask

	// Camera placement in globe space, in meters from the globe center.
	Position  Vec3
	Direction Vec3
	Up        Vec3

	// Vertical field of view in radians.
	FOVY float64

	ViewportWidth  int
	ViewportHeight int

	Near float64
	Far  float64
}

// Valid reports whether the view carries enough camera input for an update
// pass. An invalid view makes the map skip the pass rather than fail it.
func (v ViewState) Valid() bool {
	return v.Mask != 0 &&
		v.ViewportWidth > 0 &&
		v.ViewportHeight > 0 &&
		v.FOVY > 0 && v.FOVY < math.Pi &&
		v.Direction.Length() > 0
}
