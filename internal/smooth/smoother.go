// Package smooth implements the rolling position/jitter buffers (spec
// §4.3, C3): a moving-average smoothed position and the scalar jitter
// derived from it.
package smooth

import (
	"image"
	"math"
	"sync"

	"github.com/MiFaceDEV/miface/internal/metrics"
)

// Point is a float64 2D point, used internally so averaging does not
// accumulate integer rounding error across the window.
type Point struct {
	X, Y float64
}

func fromImagePoint(p image.Point) Point {
	return Point{X: float64(p.X), Y: float64(p.Y)}
}

func dist(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Smoother maintains the position and jitter rolling windows for one
// marker. Every method takes an internal mutex, so it is safe for
// concurrent use; the pipeline in internal/stream calls Observe once
// per frame.
type Smoother struct {
	mu sync.Mutex

	capacity int
	positions []Point
	jitters   []float64

	lastSmoothed Point
	haveSmoothed bool
	expired      bool
}

// New creates a smoother with the given rolling-window capacity
// (spec §3 PositionBuffer/JitterBuffer, default N=30).
func New(capacity int) *Smoother {
	if capacity <= 0 {
		capacity = 30
	}
	return &Smoother{capacity: capacity}
}

// Observe pushes a new raw marker position when detected, and advances
// the smoothed estimate and jitter window. When detected is false, the
// buffers are not advanced; the previous smoothed position remains
// valid for exactly one more frame before it is treated as absent
// (spec §4.3 "the previous smoothed position remains valid for one
// frame and then expires").
func (s *Smoother) Observe(detected bool, pos image.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !detected {
		if s.haveSmoothed && !s.expired {
			s.expired = true
			return
		}
		s.haveSmoothed = false
		return
	}

	p := fromImagePoint(pos)
	s.positions = append(s.positions, p)
	if len(s.positions) > s.capacity {
		s.positions = s.positions[len(s.positions)-s.capacity:]
	}

	smoothed := mean(s.positions)
	jitter := dist(p, smoothed)

	s.jitters = append(s.jitters, jitter)
	if len(s.jitters) > s.capacity {
		s.jitters = s.jitters[len(s.jitters)-s.capacity:]
	}

	s.lastSmoothed = smoothed
	s.haveSmoothed = true
	s.expired = false
}

// SmoothedPosition returns the current smoothed position and whether
// it is still valid (i.e. has not expired per the one-frame grace
// period above).
func (s *Smoother) SmoothedPosition() (image.Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveSmoothed {
		return image.Point{}, false
	}
	return image.Pt(int(s.lastSmoothed.X+0.5), int(s.lastSmoothed.Y+0.5)), true
}

// JitterNow returns the most recent jitter value, or 0 if the buffer is empty.
func (s *Smoother) JitterNow() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jitters) == 0 {
		return 0
	}
	return s.jitters[len(s.jitters)-1]
}

// P95Jitter returns the 95th percentile jitter over the rolling window.
func (s *Smoother) P95Jitter() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return metrics.Percentile(s.jitters, 0.95)
}

// MeanJitter returns the arithmetic mean jitter over the rolling window.
func (s *Smoother) MeanJitter() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return metrics.Mean(s.jitters)
}

// Reset clears all buffers and drops the smoothed position.
func (s *Smoother) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = nil
	s.jitters = nil
	s.haveSmoothed = false
	s.expired = false
}

func mean(points []Point) Point {
	var sx, sy float64
	for _, p := range points {
		sx += p.X
		sy += p.Y
	}
	n := float64(len(points))
	return Point{X: sx / n, Y: sy / n}
}
