package geom

import "math"

// View is the per-frame camera state the traversal consumes. Position and
// Forward/Up define the eye frame; FOVY/Aspect/Near/Far the perspective
// volume; ViewportHeight (pixels) scales geometric error to screen space.
type View struct {
	Position Vec3
	Forward  Vec3
	Up       Vec3

	FOVY   float64 // vertical field of view, radians
	Aspect float64 // width / height
	Near   float64
	Far    float64

	ViewportHeight float64 // pixels
}

// Normalized fills zero scalar fields with workable defaults and unitizes the
// direction vectors. A zero Forward falls back to -Z.
func (v View) Normalized() View {
	if v.FOVY <= 0 || v.FOVY >= math.Pi {
		v.FOVY = math.Pi / 3
	}
	if v.Aspect <= 0 {
		v.Aspect = 16.0 / 9.0
	}
	if v.Near <= 0 {
		v.Near = 0.1
	}
	if v.Far <= v.Near {
		v.Far = 1e9
	}
	if v.ViewportHeight <= 0 {
		v.ViewportHeight = 1080
	}
	v.Forward = v.Forward.Normalize()
	if v.Forward == (Vec3{}) {
		v.Forward = Vec3{0, 0, -1}
	}
	v.Up = v.Up.Normalize()
	if v.Up == (Vec3{}) {
		v.Up = Vec3{0, 1, 0}
	}
	return v
}

// ScreenSpaceError projects a geometric error onto the viewport, in pixels.
// Distance is measured to the bounding sphere surface and clamped at the near
// plane, so a volume containing the eye refines maximally.
func (v View) ScreenSpaceError(geometricError float64, bound Sphere) float64 {
	if geometricError <= 0 {
		return 0
	}
	dist := v.Position.Sub(bound.Center).Len() - bound.Radius
	if dist < v.Near {
		dist = v.Near
	}
	return geometricError * v.ViewportHeight / (2 * math.Tan(v.FOVY/2) * dist)
}

// Frustum is six inward-facing planes: near, far, left, right, top, bottom.
type Frustum struct {
	Planes [6]Plane
}

// Frustum builds the culling volume for the view. Call on a Normalized view.
func (v View) Frustum() Frustum {
	f := v.Forward
	r := f.Cross(v.Up).Normalize()
	if r == (Vec3{}) {
		// Up parallel to Forward: pick any perpendicular.
		r = f.Cross(Vec3{1, 0, 0}).Normalize()
		if r == (Vec3{}) {
			r = f.Cross(Vec3{0, 1, 0}).Normalize()
		}
	}
	u := r.Cross(f)

	hh := math.Tan(v.FOVY / 2) // half height at unit distance
	hw := hh * v.Aspect

	dRight := f.Add(r.Scale(hw))
	dLeft := f.Sub(r.Scale(hw))
	dTop := f.Add(u.Scale(hh))
	dBottom := f.Sub(u.Scale(hh))

	return Frustum{Planes: [6]Plane{
		PlaneThrough(f, v.Position.Add(f.Scale(v.Near))),
		PlaneThrough(f.Scale(-1), v.Position.Add(f.Scale(v.Far))),
		PlaneThrough(dLeft.Cross(u).Normalize(), v.Position),
		PlaneThrough(u.Cross(dRight).Normalize(), v.Position),
		PlaneThrough(dTop.Cross(r).Normalize(), v.Position),
		PlaneThrough(r.Cross(dBottom).Normalize(), v.Position),
	}}
}

// IntersectsSphere reports whether s overlaps the frustum. Conservative: a
// sphere outside every corner but inside all plane half-spaces still passes.
func (fr Frustum) IntersectsSphere(s Sphere) bool {
	for _, p := range fr.Planes {
		if p.SignedDistance(s.Center) < -s.Radius {
			return false
		}
	}
	return true
}
