package geom

import (
	"fmt"
	"math"
)

// VolumeKind discriminates the descriptor bounding-volume encodings.
type VolumeKind uint8

const (
	VolumeNone   VolumeKind = iota
	VolumeRegion            // [west, south, east, north, minHeight, maxHeight], radians/meters
	VolumeBox               // [center xyz, half-axis X xyz, half-axis Y xyz, half-axis Z xyz]
	VolumeSphere            // [center xyz, radius]
)

func (k VolumeKind) String() string {
	switch k {
	case VolumeRegion:
		return "region"
	case VolumeBox:
		return "box"
	case VolumeSphere:
		return "sphere"
	default:
		return "none"
	}
}

// EarthRadius places geodetic regions on a spherical earth, meters. Good
// enough for culling bounds; precise geodesy is out of scope.
const EarthRadius = 6378137.0

// BoundingVolume is one descriptor bounding volume, kept in its wire encoding
// and reduced to a culling sphere on demand.
type BoundingVolume struct {
	Kind   VolumeKind
	Params []float64
}

// Sphere reduces the volume to a conservative culling sphere. An encoding
// that cannot be reduced (wrong arity, non-finite values, inverted extents)
// returns an error; callers treat that as a data anomaly.
func (b BoundingVolume) Sphere() (Sphere, error) {
	for _, p := range b.Params {
		if !isFinite(p) {
			return Sphere{}, fmt.Errorf("%s volume: non-finite parameter", b.Kind)
		}
	}
	switch b.Kind {
	case VolumeSphere:
		if len(b.Params) != 4 {
			return Sphere{}, fmt.Errorf("sphere volume: want 4 parameters, got %d", len(b.Params))
		}
		if b.Params[3] < 0 {
			return Sphere{}, fmt.Errorf("sphere volume: negative radius %v", b.Params[3])
		}
		return Sphere{
			Center: Vec3{b.Params[0], b.Params[1], b.Params[2]},
			Radius: b.Params[3],
		}, nil
	case VolumeBox:
		return b.boxSphere()
	case VolumeRegion:
		return b.regionSphere()
	default:
		return Sphere{}, fmt.Errorf("no bounding volume")
	}
}

func (b BoundingVolume) boxSphere() (Sphere, error) {
	if len(b.Params) != 12 {
		return Sphere{}, fmt.Errorf("box volume: want 12 parameters, got %d", len(b.Params))
	}
	c := Vec3{b.Params[0], b.Params[1], b.Params[2]}
	ax := Vec3{b.Params[3], b.Params[4], b.Params[5]}
	ay := Vec3{b.Params[6], b.Params[7], b.Params[8]}
	az := Vec3{b.Params[9], b.Params[10], b.Params[11]}

	// Farthest corner over the sign combinations; the other four mirror.
	r := 0.0
	for _, sx := range []float64{-1, 1} {
		for _, sy := range []float64{-1, 1} {
			d := ax.Scale(sx).Add(ay.Scale(sy)).Add(az).Len()
			if d > r {
				r = d
			}
		}
	}
	return Sphere{Center: c, Radius: r}, nil
}

func (b BoundingVolume) regionSphere() (Sphere, error) {
	if len(b.Params) != 6 {
		return Sphere{}, fmt.Errorf("region volume: want 6 parameters, got %d", len(b.Params))
	}
	west, south, east, north := b.Params[0], b.Params[1], b.Params[2], b.Params[3]
	hmin, hmax := b.Params[4], b.Params[5]
	if south > north {
		return Sphere{}, fmt.Errorf("region volume: south %v > north %v", south, north)
	}
	if hmin > hmax {
		return Sphere{}, fmt.Errorf("region volume: min height %v > max height %v", hmin, hmax)
	}
	if east < west {
		east += 2 * math.Pi // anti-meridian crossing
	}

	midLon := (west + east) / 2
	midLat := (south + north) / 2

	// Sample corners, edge midpoints, and the center at both heights; the
	// sphere around their bounding box over-covers the surface bulge only
	// marginally at culling scales.
	lons := []float64{west, midLon, east}
	lats := []float64{south, midLat, north}
	var pts []Vec3
	for _, h := range []float64{hmin, hmax} {
		for _, lon := range lons {
			for _, lat := range lats {
				pts = append(pts, geodeticToCartesian(lon, lat, h))
			}
		}
	}

	min, max := pts[0], pts[0]
	for _, p := range pts[1:] {
		min = Vec3{math.Min(min.X, p.X), math.Min(min.Y, p.Y), math.Min(min.Z, p.Z)}
		max = Vec3{math.Max(max.X, p.X), math.Max(max.Y, p.Y), math.Max(max.Z, p.Z)}
	}
	center := min.Add(max).Scale(0.5)
	r := 0.0
	for _, p := range pts {
		if d := p.Sub(center).Len(); d > r {
			r = d
		}
	}
	return Sphere{Center: center, Radius: r}, nil
}

func geodeticToCartesian(lon, lat, height float64) Vec3 {
	r := EarthRadius + height
	clat := math.Cos(lat)
	return Vec3{
		X: r * clat * math.Cos(lon),
		Y: r * clat * math.Sin(lon),
		Z: r * math.Sin(lat),
	}
}
