//go:build cgo
// +build cgo

// Package overlay draws the live HUD (marker, calibration ring, target
// dot, status text) onto camera frames and encodes the result to JPEG
// for the video feed (spec §4.5, C5).
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/MiFaceDEV/miface/internal/session"
)

var (
	colorMarker      = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	colorRingInside  = color.RGBA{G: 220, A: 255}
	colorRingOutside = color.RGBA{R: 220, A: 255}
	colorTarget      = color.RGBA{B: 255, R: 255, A: 255}
	colorText        = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorShadow      = color.RGBA{A: 255}
)

// jpegQuality is the IMEncodeWithParams quality used for /video_feed.
const jpegQuality = 80

// Draw paints the HUD for one frame onto mat in place. mat must be a
// BGR frame (spec §4.1); gocv's color.RGBA-based helpers map R, G and
// B onto the frame's BGR channels, so the literals above are ordinary
// RGB colours.
func Draw(mat *gocv.Mat, snap session.MetricsSnapshot) {
	if snap.MarkerDetected {
		gocv.Circle(mat, snap.Position, 5, colorMarker, -1)
	}

	switch snap.Mode {
	case session.ModeHold:
		drawHold(mat, snap)
	case session.ModeFollow:
		drawFollow(mat, snap)
	}

	drawText(mat, statusLine(snap), image.Pt(10, 24))

	if snap.SessionState == session.StateComplete && snap.ShowFinalScore {
		drawFinalScore(mat, snap)
	}
}

func drawHold(mat *gocv.Mat, snap session.MetricsSnapshot) {
	if !snap.HasCalibration {
		return
	}
	ringColor := colorRingOutside
	if snap.InsideCircle {
		ringColor = colorRingInside
	}
	gocv.Circle(mat, snap.CalibrationCenter, int(snap.CalibrationRadius+0.5), ringColor, 2)

	if snap.SessionState == session.StateRunning {
		drawText(mat, fmt.Sprintf("remaining %.1fs", snap.TimeRemaining.Seconds()), image.Pt(10, 48))
	}
}

func drawFollow(mat *gocv.Mat, snap session.MetricsSnapshot) {
	gocv.Circle(mat, snap.TargetPosition, 8, colorTarget, -1)

	if snap.SessionState == session.StateRunning {
		drawText(mat, fmt.Sprintf("bpm %d  beat %d  remaining %.1fs", snap.BPM, snap.BeatCount, snap.TimeRemaining.Seconds()), image.Pt(10, 48))
	}
}

func drawFinalScore(mat *gocv.Mat, snap session.MetricsSnapshot) {
	size := mat.Size()
	centre := image.Pt(size[1]/2-90, size[0]/2)
	drawText(mat, fmt.Sprintf("SCORE: %.0f", snap.Score), centre)
}

func drawText(mat *gocv.Mat, text string, origin image.Point) {
	// Shadow, then text, for legibility against busy backgrounds.
	gocv.PutText(mat, text, image.Pt(origin.X+1, origin.Y+1), gocv.FontHersheySimplex, 0.6, colorShadow, 2)
	gocv.PutText(mat, text, origin, gocv.FontHersheySimplex, 0.6, colorText, 2)
}

func statusLine(snap session.MetricsSnapshot) string {
	status := "NO MARKER"
	if snap.MarkerDetected {
		status = "TRACKING"
	}
	return fmt.Sprintf("[%s] %s  %s", snap.Mode, status, snap.SessionState)
}

// EncodeJPEG encodes mat to a JPEG byte slice at the streaming quality
// used for /video_feed (spec §4.6).
func EncodeJPEG(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, jpegQuality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
