package quadtree

import (
	"math"

	"github.com/geosphere/quadtile/models"
)

// GlobeRadius is the mean radius of the globe in meters.
const GlobeRadius = 6_371_000.0

type plane struct {
	normal models.Vec3
	d      float64
}

func (p plane) distance(point models.Vec3) float64 {
	return p.normal.Dot(point) + p.d
}

func planeThrough(normal, point models.Vec3) plane {
	return plane{normal: normal, d: -normal.Dot(point)}
}

// frustum is the six inward-facing planes of a view volume.
type frustum [6]plane

func newFrustum(v models.ViewState) frustum {
	forward := models.Normalized(v.Direction)
	right := models.Normalized(models.Cross(forward, v.Up))
	up := models.Cross(right, forward)

	tanV := math.Tan(v.FOVY / 2)
	tanH := tanV * float64(v.ViewportWidth) / float64(v.ViewportHeight)

	return frustum{
		planeThrough(forward, models.Add(v.Position, models.Mul(forward, v.Near))),
		planeThrough(models.Mul(forward, -1), models.Add(v.Position, models.Mul(forward, v.Far))),
		planeThrough(models.Normalized(models.Cross(models.Sub(forward, models.Mul(right, tanH)), up)), v.Position),
		planeThrough(models.Normalized(models.Cross(up, models.Add(forward, models.Mul(right, tanH)))), v.Position),
		planeThrough(models.Normalized(models.Cross(models.Add(forward, models.Mul(up, tanV)), right)), v.Position),
		planeThrough(models.Normalized(models.Cross(right, models.Sub(forward, models.Mul(up, tanV)))), v.Position),
	}
}

func (f frustum) intersectsSphere(s sphere) bool {
	for _, p := range f {
		if p.distance(s.center) < -s.radius {
			return false
		}
	}
	return true
}

type sphere struct {
	center models.Vec3
	radius float64
}

// boundingSphere bounds the globe quadrant of the given key, inflated to the
// highest altitude of the terrain it contains.
func boundingSphere(key models.TileKey, highestAltitude float64) sphere {
	n := float64(uint64(1) << uint(key.Z))
	r := GlobeRadius + math.Max(highestAltitude, 0)

	lat0 := math.Pi/2 - math.Pi*float64(key.Y)/n
	lat1 := math.Pi/2 - math.Pi*float64(key.Y+1)/n
	lon0 := -math.Pi + 2*math.Pi*float64(key.X)/n
	lon1 := -math.Pi + 2*math.Pi*float64(key.X+1)/n

	center := pointOnSphere((lat0+lat1)/2, (lon0+lon1)/2, r)

	var radius float64
	for _, lat := range []float64{lat0, lat1} {
		for _, lon := range []float64{lon0, lon1} {
			radius = math.Max(radius, models.Distance(center, pointOnSphere(lat, lon, r)))
		}
	}
	if key.Z == 0 {
		// a single root tile wraps the whole globe
		radius = r
	}
	return sphere{center: center, radius: radius}
}

func pointOnSphere(lat, lon, r float64) models.Vec3 {
	return models.Vec3{
		X: r * math.Cos(lat) * math.Cos(lon),
		Y: r * math.Sin(lat),
		Z: r * math.Cos(lat) * math.Sin(lon),
	}
}

// screenSpaceSize returns the projected diameter of the sphere in pixels. A
// sphere the camera is inside of gets an unbounded size.
func screenSpaceSize(v models.ViewState, s sphere) float64 {
	distance := models.Distance(v.Position, s.center) - s.radius
	if distance <= v.Near {
		return math.MaxFloat64
	}
	return s.radius * float64(v.ViewportHeight) / (distance * math.Tan(v.FOVY/2))
}

// horizonOccluded reports whether the sphere lies entirely beyond the planet
// horizon as seen from the camera altitude. highestAltitude extends the reach
// of the tile above the globe surface.
func horizonOccluded(v models.ViewState, s sphere, highestAltitude float64) bool {
	altitude := v.Position.Length() - GlobeRadius
	if altitude <= 0 {
		return false
	}

	horizon := math.Sqrt(altitude * (altitude + 2*GlobeRadius))
	reach := math.Sqrt(math.Max(highestAltitude, 0) * (math.Max(highestAltitude, 0) + 2*GlobeRadius))
	return models.Distance(v.Position, s.center)-s.radius > horizon+reach
}
