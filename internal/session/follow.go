package session

import (
	"image"
	"math"
)

// followRadiusPx is the FOLLOW target path radius (spec §9 open question).
const followRadiusPx = 120.0

// targetPosition computes T(t): a point circling centre at the given
// BPM (spec §4.4). elapsed is time since session start.
func targetPosition(centre image.Point, bpm int, elapsedSeconds float64) image.Point {
	omega := 2 * math.Pi * float64(bpm) / 60.0
	x := float64(centre.X) + followRadiusPx*math.Cos(omega*elapsedSeconds)
	y := float64(centre.Y) + followRadiusPx*math.Sin(omega*elapsedSeconds)
	return image.Pt(int(x+0.5), int(y+0.5))
}

// beatIndex returns the integer part of t*BPM/60 (spec §4.4 beat
// detection: beats_elapsed increments each time this advances).
func beatIndex(bpm int, elapsedSeconds float64) int {
	return int(elapsedSeconds * float64(bpm) / 60.0)
}

// lateralJitter projects pos onto the instantaneous tangent direction
// of the target path at elapsedSeconds and returns the magnitude of
// the perpendicular residual (spec §4.4 "Lateral jitter").
func lateralJitter(centre image.Point, bpm int, elapsedSeconds float64, pos image.Point) float64 {
	omega := 2 * math.Pi * float64(bpm) / 60.0
	theta := omega * elapsedSeconds

	// Tangent to a circle parameterized by (cos, sin) is (-sin, cos).
	tx := -math.Sin(theta)
	ty := math.Cos(theta)

	target := targetPosition(centre, bpm, elapsedSeconds)
	rx := float64(pos.X - target.X)
	ry := float64(pos.Y - target.Y)

	// Perpendicular residual = |r| projected off the tangent axis:
	// the component of r orthogonal to (tx,ty).
	along := rx*tx + ry*ty
	perpX := rx - along*tx
	perpY := ry - along*ty
	return math.Sqrt(perpX*perpX + perpY*perpY)
}
