// Package session implements the session controller (spec §4.4, C4):
// the HOLD/FOLLOW state machine, per-frame aggregation, and the final
// scoring that produces a SessionRecord for C7.
package session

import (
	"image"
	"time"

	"github.com/google/uuid"

	"github.com/MiFaceDEV/miface/internal/config"
)

// Mode selects the exercise type (spec §1/§3).
type Mode string

// Supported modes.
const (
	ModeHold   Mode = "HOLD"
	ModeFollow Mode = "FOLLOW"
)

// Duration returns the fixed session length for m (spec §3).
func (m Mode) Duration() time.Duration {
	if m == ModeFollow {
		return 20 * time.Second
	}
	return 10 * time.Second
}

// State is the session controller's state machine position (spec §4.4).
type State string

// States.
const (
	StateIdle     State = "IDLE"
	StateRunning  State = "RUNNING"
	StateComplete State = "COMPLETE"
)

// Calibration is the HOLD target circle (spec §3).
type Calibration struct {
	Center image.Point
	Radius float64
}

// Valid reports whether the calibration is usable (radius > 0).
func (c *Calibration) Valid() bool {
	return c != nil && c.Radius > 0
}

// Inside reports whether pos lies within the calibrated circle.
func (c *Calibration) Inside(pos image.Point) bool {
	if !c.Valid() {
		return false
	}
	dx := float64(pos.X - c.Center.X)
	dy := float64(pos.Y - c.Center.Y)
	return dx*dx+dy*dy <= c.Radius*c.Radius
}

// FeedbackStatus is the FOLLOW-mode qualitative lateral-jitter band
// (spec §4.4).
type FeedbackStatus string

// Feedback status bands.
const (
	FeedbackGood    FeedbackStatus = "good"
	FeedbackWarning FeedbackStatus = "warning"
	FeedbackPoor    FeedbackStatus = "poor"
)

// StabilityLevel is the HOLD-mode qualitative score band (spec §4.4).
type StabilityLevel string

// Stability level bands.
const (
	StabilityStable   StabilityLevel = "stable"
	StabilityWarning  StabilityLevel = "warning"
	StabilityUnstable StabilityLevel = "unstable"
)

// sample is one per-frame observation recorded while RUNNING.
type sample struct {
	t             time.Time
	hasPosition   bool
	position      image.Point
	jitter        float64
	insideCircle  bool   // HOLD only
	lateralJitter float64 // FOLLOW only
}

// Session is the live, in-progress exercise (spec §3).
type Session struct {
	ID          string
	Mode        Mode
	StartedAt   time.Time
	Duration    time.Duration
	HsvUsed     config.HsvRange
	Samples     []sample
	Calibration *Calibration // HOLD only
	BPM         int          // FOLLOW only
	BeatsElapsed int         // FOLLOW only

	framesTotal    int
	framesDetected int
	framesInside   int // HOLD only

	lastBeatIndex int // FOLLOW only, tracks integer part of t*BPM/60
}

func newSession(mode Mode, hsv config.HsvRange, now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Mode:      mode,
		StartedAt: now,
		Duration:  mode.Duration(),
		HsvUsed:   hsv,
		BPM:       60,
	}
}

func (s *Session) elapsed(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}

func (s *Session) remaining(now time.Time) time.Duration {
	r := s.Duration - s.elapsed(now)
	if r < 0 {
		return 0
	}
	return r
}

// SessionRecord is the persistent, bit-exact JSON representation of a
// completed session (spec §6). Field order is not significant.
type SessionRecord struct {
	ID                string   `json:"id"`
	Timestamp         string   `json:"timestamp"`
	Type              Mode     `json:"type"`
	DurationS         float64  `json:"duration_s"`
	HsvLower          [3]int   `json:"hsv_lower"`
	HsvUpper          [3]int   `json:"hsv_upper"`
	// TremorScore is the published 0–100 score, max(0, 100 − 5·p95),
	// for both modes (FOLLOW's movement-quality score).
	TremorScore       float64  `json:"tremor_score"`
	FramesTotal       int      `json:"frames_total"`
	FramesMarkerFound int      `json:"frames_marker_found"`

	// HOLD only.
	CircleCenter    *[2]int  `json:"circle_center,omitempty"`
	CircleRadius    *float64 `json:"circle_radius,omitempty"`
	AvgJitter       *float64 `json:"avg_jitter,omitempty"`
	P95Jitter       *float64 `json:"p95_jitter,omitempty"`
	InsideCirclePct *float64 `json:"inside_circle_pct,omitempty"`

	// FOLLOW only.
	AvgLateralJitter *float64 `json:"avg_lateral_jitter,omitempty"`
	P95LateralJitter *float64 `json:"p95_lateral_jitter,omitempty"`
	MaxLateralJitter *float64 `json:"max_lateral_jitter,omitempty"`
	BeatsTotal       *int     `json:"beats_total,omitempty"`
}

// MetricsSnapshot is the live per-frame metrics view published to
// clients (spec §4.6 "metrics" message) and to /tracking_data.
type MetricsSnapshot struct {
	Mode              Mode
	Position          image.Point
	MarkerDetected    bool
	Jitter            float64
	P95Jitter         float64
	LateralJitter     float64
	P95LateralJitter  float64
	StabilityLevel    StabilityLevel
	FeedbackStatus    FeedbackStatus
	Score             float64
	SessionState      State
	TimeRemaining     time.Duration
	Elapsed           time.Duration
	BPM               int
	BeatCount         int
	TargetPosition    image.Point
	InsideCircle      bool
	HasCalibration    bool
	CalibrationCenter image.Point
	CalibrationRadius float64
	ShowFinalScore    bool
}
