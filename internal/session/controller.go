package session

import (
	"errors"
	"image"
	"math"
	"sync"
	"time"

	"github.com/MiFaceDEV/miface/internal/config"
	"github.com/MiFaceDEV/miface/internal/metrics"
)

// Errors returned by control commands (spec §4.4/§7 InvalidControl).
var (
	ErrNotIdle         = errors.New("session: controller is not idle")
	ErrNotRunning      = errors.New("session: controller is not running")
	ErrRunning         = errors.New("session: controller is running")
	ErrNotDetected     = errors.New("session: marker not currently detected")
	ErrNoCalibration   = errors.New("session: HOLD requires a calibration")
	ErrNotComplete     = errors.New("session: controller is not complete")
	ErrWrongModeForCmd = errors.New("session: command not valid for current mode")
)

const (
	minBPM = 30
	maxBPM = 180

	// completeOverlayWindow is how long the final score remains
	// available to the overlay renderer after completion (spec §4.5).
	completeOverlayWindow = time.Second
)

// HSVSetter is implemented by the marker detector; the controller
// forwards hsv_update commands to it (spec §4.4 table).
type HSVSetter interface {
	SetHSV(config.HsvRange)
}

// LedSink receives inside/outside-circle boolean updates (spec §4.4
// HOLD, §4.8 C9).
type LedSink interface {
	Set(inside bool)
}

// RecordSink receives finalized SessionRecords (spec §4.7 C7).
type RecordSink interface {
	Append(SessionRecord) error
}

// Controller is the session state machine (spec §4.4, C4). It owns
// the single live Session and is driven by one pipeline goroutine:
// callers must serialize Tick and control-command calls (the mutex
// only guards cross-goroutine reads of snapshot state, e.g. from an
// HTTP handler).
type Controller struct {
	mu sync.Mutex

	state State
	mode  Mode
	live  *Session

	calib     *Calibration
	calibStep int // 0: awaiting center click, 1: awaiting radius click

	bpm int

	frameCentre image.Point

	hsv       config.HsvRange
	hsvSetter HSVSetter
	led       LedSink
	store     RecordSink

	lastMarkerDetected bool
	lastLedInside      bool
	haveLastLed        bool

	completedAt  time.Time
	lastRecord   *SessionRecord
}

// New creates an IDLE controller for HOLD mode at the given HSV range.
// frameCentre is the FOLLOW target path centre (spec §9: frame centre
// by default).
func New(initialHsv config.HsvRange, frameCentre image.Point, hsvSetter HSVSetter, led LedSink, store RecordSink) *Controller {
	return &Controller{
		state:       StateIdle,
		mode:        ModeHold,
		bpm:         60,
		frameCentre: frameCentre,
		hsv:         initialHsv,
		hsvSetter:   hsvSetter,
		led:         led,
		store:       store,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// LastRecord returns the most recently finalized SessionRecord, or nil
// if no session has completed yet.
func (c *Controller) LastRecord() *SessionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRecord
}

// ModeSwitch sets the mode (spec §4.4 table: only valid when not RUNNING).
func (c *Controller) ModeSwitch(m Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRunning {
		return ErrRunning
	}
	c.mode = m
	c.live = nil
	if c.state == StateComplete {
		c.state = StateIdle
	}
	if m == ModeFollow {
		c.calib = nil
		c.calibStep = 0
	}
	return nil
}

// SessionStart begins a session (spec §4.4: IDLE->RUNNING, or an
// implicit COMPLETE->IDLE->RUNNING). Starting while already RUNNING is
// a silent no-op (spec §8 idempotence).
func (c *Controller) SessionStart() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRunning {
		return nil
	}
	if !c.lastMarkerDetected {
		return ErrNotDetected
	}
	if c.mode == ModeHold && !c.calib.Valid() {
		return ErrNoCalibration
	}

	now := time.Now()
	c.live = newSession(c.mode, c.hsv, now)
	if c.mode == ModeHold {
		calib := *c.calib
		c.live.Calibration = &calib
	} else {
		c.live.BPM = c.bpm
	}
	c.state = StateRunning
	return nil
}

// SessionStop finalizes the live session immediately (spec §4.4
// RUNNING->COMPLETE; §8 idempotent when called twice).
func (c *Controller) SessionStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return nil
	}
	c.finalizeLocked(time.Now())
	return nil
}

// Dismiss moves COMPLETE -> IDLE (spec §4.4 table).
func (c *Controller) Dismiss() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateComplete {
		return ErrNotComplete
	}
	c.state = StateIdle
	c.live = nil
	return nil
}

// CalibrationClick handles the two-step HOLD calibration (spec §4.4).
func (c *Controller) CalibrationClick(pt image.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeHold {
		return ErrWrongModeForCmd
	}
	if c.state == StateRunning {
		return ErrRunning
	}

	switch c.calibStep {
	case 0:
		c.calib = &Calibration{Center: pt}
		c.calibStep = 1
	default:
		if c.calib == nil {
			c.calib = &Calibration{Center: pt}
			c.calibStep = 1
			return nil
		}
		dx := float64(pt.X - c.calib.Center.X)
		dy := float64(pt.Y - c.calib.Center.Y)
		c.calib.Radius = hypot(dx, dy)
		c.calibStep = 0
	}
	return nil
}

// BPMChange clamps the BPM delta into [30,180] (spec §4.4).
func (c *Controller) BPMChange(delta int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRunning {
		return ErrRunning
	}
	c.bpm = clamp(c.bpm+delta, minBPM, maxBPM)
	return nil
}

// HSVUpdate forwards a new HSV range to the detector (spec §4.4:
// always valid, applied atomically between frames by the detector).
func (c *Controller) HSVUpdate(r config.HsvRange) {
	c.mu.Lock()
	c.hsv = r
	c.mu.Unlock()
	if c.hsvSetter != nil {
		c.hsvSetter.SetHSV(r)
	}
}

// Tick advances the controller by one frame (spec §4.4 "Per-frame
// work while RUNNING"). detected/pos/jitterNow come from the smoother
// (C3); now is the current wall-clock time.
func (c *Controller) Tick(detected bool, pos image.Point, jitterNow float64, now time.Time) MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastMarkerDetected = detected

	if c.state == StateRunning {
		if c.live.elapsed(now) >= c.live.Duration {
			c.finalizeLocked(now)
		} else {
			c.stepLocked(detected, pos, jitterNow, now)
		}
	}

	return c.snapshotLocked(detected, pos, jitterNow, now)
}

func (c *Controller) stepLocked(detected bool, pos image.Point, jitterNow float64, now time.Time) {
	s := c.live
	s.framesTotal++
	if detected {
		s.framesDetected++
	}

	sm := sample{t: now, hasPosition: detected, position: pos, jitter: jitterNow}

	switch s.Mode {
	case ModeHold:
		inside := detected && s.Calibration.Inside(pos)
		sm.insideCircle = inside
		if inside {
			s.framesInside++
		}
		if c.led != nil && (!c.haveLastLed || inside != c.lastLedInside) {
			c.led.Set(inside)
			c.lastLedInside = inside
			c.haveLastLed = true
		}
	case ModeFollow:
		elapsedSeconds := s.elapsed(now).Seconds()
		idx := beatIndex(s.BPM, elapsedSeconds)
		if idx > s.lastBeatIndex {
			s.BeatsElapsed += idx - s.lastBeatIndex
			s.lastBeatIndex = idx
		}
		if detected {
			sm.lateralJitter = lateralJitter(c.frameCentre, s.BPM, elapsedSeconds, pos)
		}
	}

	s.Samples = append(s.Samples, sm)
}

func (c *Controller) finalizeLocked(now time.Time) {
	s := c.live
	record := buildRecord(s)
	c.lastRecord = &record
	c.completedAt = now
	c.state = StateComplete

	if c.store != nil {
		_ = c.store.Append(record)
	}
}

func (c *Controller) snapshotLocked(detected bool, pos image.Point, jitterNow float64, now time.Time) MetricsSnapshot {
	snap := MetricsSnapshot{
		Mode:           c.mode,
		Position:       pos,
		MarkerDetected: detected,
		Jitter:         jitterNow,
		SessionState:   c.state,
		BPM:            c.bpm,
	}

	if c.calib.Valid() {
		snap.HasCalibration = true
		snap.CalibrationCenter = c.calib.Center
		snap.CalibrationRadius = c.calib.Radius
		snap.InsideCircle = detected && c.calib.Inside(pos)
	}

	switch c.state {
	case StateRunning:
		s := c.live
		snap.Mode = s.Mode
		snap.Elapsed = s.elapsed(now)
		snap.TimeRemaining = s.remaining(now)
		jitters := make([]float64, 0, len(s.Samples))
		for _, sm := range s.Samples {
			jitters = append(jitters, sm.jitter)
		}
		snap.P95Jitter = metrics.Percentile(jitters, 0.95)

		if s.Mode == ModeHold {
			snap.Score = scoreFromP95(snap.P95Jitter)
			snap.StabilityLevel = stabilityLevel(snap.Score)
		}

		if s.Mode == ModeFollow {
			snap.BPM = s.BPM
			snap.BeatCount = s.BeatsElapsed
			elapsedSeconds := s.elapsed(now).Seconds()
			snap.TargetPosition = targetPosition(c.frameCentre, s.BPM, elapsedSeconds)

			laterals := make([]float64, 0, len(s.Samples))
			for _, sm := range s.Samples {
				if sm.hasPosition {
					laterals = append(laterals, sm.lateralJitter)
				}
			}
			snap.LateralJitter = lastOrZero(laterals)
			snap.P95LateralJitter = metrics.Percentile(laterals, 0.95)
			snap.FeedbackStatus = feedbackStatus(snap.P95LateralJitter)
			snap.Score = scoreFromP95(snap.P95LateralJitter)
		}
	case StateComplete:
		if c.lastRecord != nil {
			snap.Mode = c.lastRecord.Type
			snap.Score = c.lastRecord.TremorScore
			snap.ShowFinalScore = now.Sub(c.completedAt) < completeOverlayWindow
			if c.lastRecord.Type == ModeHold {
				snap.StabilityLevel = stabilityLevel(snap.Score)
			} else {
				p95Lateral := 0.0
				if c.lastRecord.P95LateralJitter != nil {
					p95Lateral = *c.lastRecord.P95LateralJitter
				}
				snap.FeedbackStatus = feedbackStatus(p95Lateral)
			}
		}
	}

	return snap
}

func buildRecord(s *Session) SessionRecord {
	jitters := make([]float64, 0, len(s.Samples))
	var lateral []float64
	for _, sm := range s.Samples {
		jitters = append(jitters, sm.jitter)
		if s.Mode == ModeFollow && sm.hasPosition {
			lateral = append(lateral, sm.lateralJitter)
		}
	}

	record := SessionRecord{
		ID:                s.ID,
		Timestamp:         s.StartedAt.UTC().Format(time.RFC3339),
		Type:              s.Mode,
		DurationS:         s.Duration.Seconds(),
		HsvLower:          [3]int{s.HsvUsed.HLo, s.HsvUsed.SLo, s.HsvUsed.VLo},
		HsvUpper:          [3]int{s.HsvUsed.HHi, s.HsvUsed.SHi, s.HsvUsed.VHi},
		FramesTotal:       s.framesTotal,
		FramesMarkerFound: s.framesDetected,
	}

	switch s.Mode {
	case ModeHold:
		avgJitter := metrics.Mean(jitters)
		p95Jitter := metrics.Percentile(jitters, 0.95)
		insidePct := 0.0
		if s.framesTotal > 0 {
			insidePct = 100 * float64(s.framesInside) / float64(s.framesTotal)
		}

		score := scoreFromP95(p95Jitter)
		if s.framesDetected == 0 {
			// Degenerate convention (spec §8): an entirely missing
			// marker scores 0, not the 100 that scoreFromP95(0) would
			// otherwise compute.
			score = 0
		}

		record.TremorScore = score
		record.AvgJitter = ptr(avgJitter)
		record.P95Jitter = ptr(p95Jitter)
		record.InsideCirclePct = ptr(insidePct)
		if s.Calibration.Valid() {
			record.CircleCenter = &[2]int{s.Calibration.Center.X, s.Calibration.Center.Y}
			record.CircleRadius = ptr(s.Calibration.Radius)
		}

	case ModeFollow:
		avgLateral := metrics.Mean(lateral)
		p95Lateral := metrics.Percentile(lateral, 0.95)
		maxLateral := metrics.Max(lateral)

		score := scoreFromP95(p95Lateral)
		if s.framesDetected == 0 {
			score = 0
		}

		record.TremorScore = score
		record.AvgLateralJitter = ptr(avgLateral)
		record.P95LateralJitter = ptr(p95Lateral)
		record.MaxLateralJitter = ptr(maxLateral)
		record.BeatsTotal = ptr(s.BeatsElapsed)
	}

	return record
}

func scoreFromP95(p95 float64) float64 {
	s := 100 - 5*p95
	if s < 0 {
		return 0
	}
	return s
}

func stabilityLevel(score float64) StabilityLevel {
	switch {
	case score >= 80:
		return StabilityStable
	case score >= 50:
		return StabilityWarning
	default:
		return StabilityUnstable
	}
}

func feedbackStatus(p95Lateral float64) FeedbackStatus {
	switch {
	case p95Lateral <= 8:
		return FeedbackGood
	case p95Lateral <= 15:
		return FeedbackWarning
	default:
		return FeedbackPoor
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func hypot(dx, dy float64) float64 {
	return math.Sqrt(dx*dx + dy*dy)
}

func lastOrZero(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

func ptr[T any](v T) *T {
	return &v
}
