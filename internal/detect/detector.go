//go:build cgo
// +build cgo

// Package detect implements the marker detector (spec §4.2, C2):
// HSV-threshold + morphology + contour centroiding over a BGR frame.
package detect

import (
	"image"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/MiFaceDEV/miface/internal/config"
)

// minContourArea is the minimum contour area, in pixels, to be
// considered a candidate marker (spec §4.2 step 4).
const minContourArea = 50

// Observation is the result of running the detector on one frame
// (spec §3 MarkerObservation). Position is meaningful only when
// Detected is true; otherwise it is the zero point.
type Observation struct {
	Position  image.Point
	Detected  bool
	Timestamp time.Time
}

// Detector runs the HSV threshold/morphology/contour pipeline.
// SetHSV is safe to call concurrently with Detect; the new range is
// only ever observed at the start of the next Detect call (spec §4.2
// "Runtime override ... applied atomically between frames").
type Detector struct {
	hsv atomic.Value // config.HsvRange
}

// New creates a detector with the given initial HSV range.
func New(initial config.HsvRange) *Detector {
	d := &Detector{}
	d.hsv.Store(initial)
	return d
}

// SetHSV atomically swaps the active HSV range.
func (d *Detector) SetHSV(r config.HsvRange) {
	d.hsv.Store(r)
}

// HSV returns the currently active HSV range.
func (d *Detector) HSV() config.HsvRange {
	return d.hsv.Load().(config.HsvRange)
}

// Detect runs the detection pipeline against a BGR frame.
func (d *Detector) Detect(frame gocv.Mat) Observation {
	now := time.Now()
	hsvRange := d.HSV()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(frame, &hsv, gocv.ColorBGRToHSV)

	mask := buildMask(hsv, hsvRange)
	defer mask.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(5, 5))
	defer kernel.Close()
	gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, kernel)
	gocv.MorphologyEx(mask, &mask, gocv.MorphClose, kernel)

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	bestIdx := -1
	bestArea := -1.0
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area < minContourArea {
			continue
		}
		// Strict > keeps the first-encountered contour on a tie (spec
		// §4.2 edge case: "multiple equal-area contours -> choose the
		// first encountered").
		if area > bestArea {
			bestArea = area
			bestIdx = i
		}
	}

	if bestIdx < 0 {
		return Observation{Detected: false, Timestamp: now}
	}

	moments := gocv.Moments(contours.At(bestIdx), false)
	if moments["m00"] == 0 {
		return Observation{Detected: false, Timestamp: now}
	}

	cx := int(moments["m10"]/moments["m00"] + 0.5)
	cy := int(moments["m01"]/moments["m00"] + 0.5)

	return Observation{
		Position:  image.Pt(cx, cy),
		Detected:  true,
		Timestamp: now,
	}
}

// buildMask thresholds hsv into a binary mask for r. If r wraps hue
// (HLo > HHi), the mask is the union of the two hue slices.
func buildMask(hsv gocv.Mat, r config.HsvRange) gocv.Mat {
	mask := gocv.NewMat()

	if r.HLo <= r.HHi {
		lo := gocv.NewScalar(float64(r.HLo), float64(r.SLo), float64(r.VLo), 0)
		hi := gocv.NewScalar(float64(r.HHi), float64(r.SHi), float64(r.VHi), 0)
		gocv.InRangeWithScalar(hsv, lo, hi, &mask)
		return mask
	}

	// Hue wraps: union of [HLo,179] and [0,HHi].
	lo1 := gocv.NewScalar(float64(r.HLo), float64(r.SLo), float64(r.VLo), 0)
	hi1 := gocv.NewScalar(179, float64(r.SHi), float64(r.VHi), 0)
	mask1 := gocv.NewMat()
	defer mask1.Close()
	gocv.InRangeWithScalar(hsv, lo1, hi1, &mask1)

	lo2 := gocv.NewScalar(0, float64(r.SLo), float64(r.VLo), 0)
	hi2 := gocv.NewScalar(float64(r.HHi), float64(r.SHi), float64(r.VHi), 0)
	mask2 := gocv.NewMat()
	defer mask2.Close()
	gocv.InRangeWithScalar(hsv, lo2, hi2, &mask2)

	gocv.BitwiseOr(mask1, mask2, &mask)
	return mask
}
