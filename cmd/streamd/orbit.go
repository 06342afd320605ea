package main

import (
	"math"
	"time"

	"tilestream.ai/internal/geom"
	"tilestream.ai/internal/tuning"
)

// orbitView places the camera on a circular path around the orbit center,
// looking inward. Zero-value tuning yields a workable default orbit.
func orbitView(tune tuning.Tuning, elapsed time.Duration) geom.View {
	radius := tune.Orbit.Radius
	if radius <= 0 {
		radius = 500
	}
	height := tune.Orbit.Height
	if height == 0 {
		height = 150
	}
	period := tune.Orbit.PeriodSec
	if period <= 0 {
		period = 60
	}
	var center geom.Vec3
	if len(tune.Orbit.Center) == 3 {
		center = geom.Vec3{X: tune.Orbit.Center[0], Y: tune.Orbit.Center[1], Z: tune.Orbit.Center[2]}
	}

	angle := 2 * math.Pi * elapsed.Seconds() / period
	eye := center.Add(geom.Vec3{X: radius * math.Cos(angle), Y: height, Z: radius * math.Sin(angle)})

	fovDeg := tune.Viewport.FOVYDeg
	if fovDeg <= 0 {
		fovDeg = 60
	}
	vw, vh := viewportSize(tune.Viewport)

	return geom.View{
		Position:       eye,
		Forward:        center.Sub(eye).Normalize(),
		Up:             geom.Vec3{Y: 1},
		FOVY:           fovDeg * math.Pi / 180,
		Aspect:         float64(vw) / float64(vh),
		Near:           tune.Viewport.Near,
		Far:            tune.Viewport.Far,
		ViewportHeight: float64(vh),
	}
}

func viewportSize(v tuning.Viewport) (int, int) {
	w, h := v.Width, v.Height
	if w <= 0 {
		w = 1280
	}
	if h <= 0 {
		h = 720
	}
	return w, h
}
