// Package geom carries the small linear-algebra kit the traversal needs:
// vectors, planes, culling spheres, and the view frustum.
package geom

import "math"

// Vec3 is a point or direction in a right-handed Cartesian frame, meters.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3      { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3      { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Dot(o Vec3) float64   { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

func (v Vec3) Len() float64 { return math.Sqrt(v.Dot(v)) }

// Normalize returns the unit vector, or the zero vector for near-zero input.
func (v Vec3) Normalize() Vec3 {
	l := v.Len()
	if l < 1e-12 {
		return Vec3{}
	}
	return v.Scale(1 / l)
}

func (v Vec3) IsFinite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Sphere is the culling bound every volume encoding reduces to.
type Sphere struct {
	Center Vec3
	Radius float64
}

// Contains reports whether p lies inside or on the sphere.
func (s Sphere) Contains(p Vec3) bool {
	return p.Sub(s.Center).Len() <= s.Radius+1e-9
}

// Plane is the set of points p with Normal·p + D == 0. Normal is unit length.
type Plane struct {
	Normal Vec3
	D      float64
}

// PlaneThrough builds the plane with the given unit normal passing through p.
func PlaneThrough(normal, p Vec3) Plane {
	return Plane{Normal: normal, D: -normal.Dot(p)}
}

// SignedDistance is positive on the side the normal points into.
func (p Plane) SignedDistance(v Vec3) float64 {
	return p.Normal.Dot(v) + p.D
}
