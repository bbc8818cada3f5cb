package session

import (
	"image"
	"testing"
	"time"

	"github.com/MiFaceDEV/miface/internal/config"
)

type fakeHSVSetter struct {
	last config.HsvRange
}

func (f *fakeHSVSetter) SetHSV(r config.HsvRange) { f.last = r }

type fakeLed struct {
	states []bool
}

func (f *fakeLed) Set(inside bool) { f.states = append(f.states, inside) }

type fakeStore struct {
	records []SessionRecord
}

func (f *fakeStore) Append(r SessionRecord) error {
	f.records = append(f.records, r)
	return nil
}

func newTestController() (*Controller, *fakeLed, *fakeStore) {
	led := &fakeLed{}
	store := &fakeStore{}
	c := New(config.Presets[config.PenRed], image.Pt(320, 240), &fakeHSVSetter{}, led, store)
	return c, led, store
}

func TestController_HoldWithoutCalibration(t *testing.T) {
	c, _, _ := newTestController()

	c.Tick(true, image.Pt(320, 240), 0, time.Now()) // prime lastMarkerDetected

	if err := c.SessionStart(); err != ErrNoCalibration {
		t.Fatalf("expected ErrNoCalibration, got %v", err)
	}
	if c.State() != StateIdle {
		t.Errorf("expected state unchanged (IDLE), got %s", c.State())
	}
}

func TestController_StartRequiresDetection(t *testing.T) {
	c, _, _ := newTestController()
	_ = c.CalibrationClick(image.Pt(320, 240))
	_ = c.CalibrationClick(image.Pt(340, 240))

	c.Tick(false, image.Point{}, 0, time.Now())

	if err := c.SessionStart(); err != ErrNotDetected {
		t.Fatalf("expected ErrNotDetected, got %v", err)
	}
}

func TestController_PerfectHold(t *testing.T) {
	c, _, store := newTestController()
	_ = c.CalibrationClick(image.Pt(320, 240))
	_ = c.CalibrationClick(image.Pt(340, 240)) // radius 20

	now := time.Now()
	c.Tick(true, image.Pt(320, 240), 0, now)
	if err := c.SessionStart(); err != nil {
		t.Fatalf("SessionStart failed: %v", err)
	}

	for i := 1; i <= 300; i++ {
		frameTime := now.Add(time.Duration(i) * (10 * time.Second) / 300)
		snap := c.Tick(true, image.Pt(320, 240), 0.1, frameTime)
		_ = snap
	}

	// Drive past the deadline to force finalize.
	c.Tick(true, image.Pt(320, 240), 0.1, now.Add(11*time.Second))

	if c.State() != StateComplete {
		t.Fatalf("expected COMPLETE, got %s", c.State())
	}
	if len(store.records) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(store.records))
	}
	rec := store.records[0]
	if rec.FramesTotal != 300 {
		t.Errorf("expected frames_total=300, got %d", rec.FramesTotal)
	}
	if rec.FramesMarkerFound != 300 {
		t.Errorf("expected frames_marker_found=300, got %d", rec.FramesMarkerFound)
	}
	if rec.InsideCirclePct == nil || *rec.InsideCirclePct != 100.0 {
		t.Errorf("expected inside_circle_pct=100, got %v", rec.InsideCirclePct)
	}
	if rec.TremorScore < 95 {
		t.Errorf("expected score >= 95, got %v", rec.TremorScore)
	}
}

func TestController_MissingMarkerDegenerate(t *testing.T) {
	c, _, store := newTestController()
	_ = c.CalibrationClick(image.Pt(320, 240))
	_ = c.CalibrationClick(image.Pt(340, 240))

	now := time.Now()
	c.Tick(true, image.Pt(320, 240), 0, now)
	if err := c.SessionStart(); err != nil {
		t.Fatalf("SessionStart failed: %v", err)
	}

	for i := 1; i <= 50; i++ {
		frameTime := now.Add(time.Duration(i) * (10 * time.Second) / 50)
		c.Tick(false, image.Point{}, 0, frameTime)
	}
	c.Tick(false, image.Point{}, 0, now.Add(11*time.Second))

	rec := store.records[0]
	if rec.FramesMarkerFound != 0 {
		t.Errorf("expected frames_marker_found=0, got %d", rec.FramesMarkerFound)
	}
	if *rec.AvgJitter != 0 || *rec.P95Jitter != 0 {
		t.Errorf("expected zeroed jitter, got avg=%v p95=%v", *rec.AvgJitter, *rec.P95Jitter)
	}
	if *rec.InsideCirclePct != 0 {
		t.Errorf("expected inside_circle_pct=0, got %v", *rec.InsideCirclePct)
	}
	if rec.TremorScore != 0 {
		t.Errorf("expected degenerate score=0, got %v", rec.TremorScore)
	}
}

func TestController_SessionStopIdempotent(t *testing.T) {
	c, _, store := newTestController()
	_ = c.CalibrationClick(image.Pt(320, 240))
	_ = c.CalibrationClick(image.Pt(340, 240))
	c.Tick(true, image.Pt(320, 240), 0, time.Now())
	_ = c.SessionStart()

	if err := c.SessionStop(); err != nil {
		t.Fatalf("first stop failed: %v", err)
	}
	if err := c.SessionStop(); err != nil {
		t.Fatalf("second stop should be a no-op, got: %v", err)
	}
	if len(store.records) != 1 {
		t.Fatalf("expected exactly 1 finalized record, got %d", len(store.records))
	}
}

func TestController_StartDuringRunningIsNoop(t *testing.T) {
	c, _, _ := newTestController()
	_ = c.CalibrationClick(image.Pt(320, 240))
	_ = c.CalibrationClick(image.Pt(340, 240))
	c.Tick(true, image.Pt(320, 240), 0, time.Now())
	_ = c.SessionStart()

	if err := c.SessionStart(); err != nil {
		t.Errorf("expected no-op (nil error) starting while RUNNING, got %v", err)
	}
	if c.State() != StateRunning {
		t.Errorf("expected still RUNNING, got %s", c.State())
	}
}

func TestController_FollowBeatCount(t *testing.T) {
	c, _, store := newTestController()
	if err := c.ModeSwitch(ModeFollow); err != nil {
		t.Fatalf("ModeSwitch failed: %v", err)
	}

	now := time.Now()
	c.Tick(true, image.Pt(320, 240), 0, now)
	if err := c.SessionStart(); err != nil {
		t.Fatalf("SessionStart failed: %v", err)
	}

	const frames = 600 // 20s at 30Hz
	for i := 1; i <= frames; i++ {
		frameTime := now.Add(time.Duration(i) * (20 * time.Second) / frames)
		c.Tick(true, image.Pt(320, 240), 0, frameTime)
	}
	c.Tick(true, image.Pt(320, 240), 0, now.Add(21*time.Second))

	rec := store.records[0]
	if rec.BeatsTotal == nil {
		t.Fatal("expected beats_total to be set")
	}
	if *rec.BeatsTotal < 19 || *rec.BeatsTotal > 21 {
		t.Errorf("expected beats_total in [19,21], got %d", *rec.BeatsTotal)
	}
}

func TestController_CalibrationThirdClickRestarts(t *testing.T) {
	c, _, _ := newTestController()
	_ = c.CalibrationClick(image.Pt(100, 100))
	_ = c.CalibrationClick(image.Pt(120, 100)) // radius 20
	_ = c.CalibrationClick(image.Pt(200, 200)) // restarts: new center

	c.Tick(true, image.Pt(200, 200), 0, time.Now())
	if err := c.SessionStart(); err != ErrNoCalibration {
		t.Fatalf("expected ErrNoCalibration after restart (radius not yet set), got %v", err)
	}
}

func TestController_BPMChangeClamps(t *testing.T) {
	c, _, _ := newTestController()
	_ = c.ModeSwitch(ModeFollow)

	_ = c.BPMChange(-1000)
	if c.bpm != minBPM {
		t.Errorf("expected bpm clamped to %d, got %d", minBPM, c.bpm)
	}
	_ = c.BPMChange(1000)
	if c.bpm != maxBPM {
		t.Errorf("expected bpm clamped to %d, got %d", maxBPM, c.bpm)
	}
}

func TestController_HSVUpdateForwarded(t *testing.T) {
	c, _, _ := newTestController()
	setter := &fakeHSVSetter{}
	c.hsvSetter = setter

	r := config.Presets[config.PenBlue]
	c.HSVUpdate(r)
	if setter.last != r {
		t.Errorf("expected HSV forwarded to detector, got %+v", setter.last)
	}
}

func TestController_ModeSwitchClearsCalibrationForFollow(t *testing.T) {
	c, _, _ := newTestController()
	_ = c.CalibrationClick(image.Pt(100, 100))
	_ = c.CalibrationClick(image.Pt(120, 100))

	_ = c.ModeSwitch(ModeFollow)

	c.Tick(true, image.Pt(100, 100), 0, time.Now())
	_ = c.ModeSwitch(ModeHold)
	if err := c.SessionStart(); err != ErrNoCalibration {
		t.Errorf("expected calibration cleared after switching to FOLLOW, got %v", err)
	}
}

func TestController_InvariantsAcrossHoldRun(t *testing.T) {
	c, _, store := newTestController()
	_ = c.CalibrationClick(image.Pt(320, 240))
	_ = c.CalibrationClick(image.Pt(340, 240))

	now := time.Now()
	c.Tick(true, image.Pt(320, 240), 0, now)
	_ = c.SessionStart()

	deltas := []int{-10, -5, 0, 5, 10}
	for i := 1; i <= 300; i++ {
		d := deltas[i%len(deltas)]
		frameTime := now.Add(time.Duration(i) * (10 * time.Second) / 300)
		snap := c.Tick(true, image.Pt(320+d, 240+d), float64(abs(d)), frameTime)

		if snap.SessionState == StateRunning && snap.TimeRemaining < 0 {
			t.Fatalf("time_remaining went negative while RUNNING")
		}
	}
	c.Tick(true, image.Pt(320, 240), 0, now.Add(11*time.Second))

	rec := store.records[0]
	if rec.FramesMarkerFound > rec.FramesTotal {
		t.Errorf("frames_marker_found (%d) > frames_total (%d)", rec.FramesMarkerFound, rec.FramesTotal)
	}
	if *rec.InsideCirclePct < 0 || *rec.InsideCirclePct > 100 {
		t.Errorf("inside_circle_pct out of range: %v", *rec.InsideCirclePct)
	}
	if rec.TremorScore < 0 || rec.TremorScore > 100 {
		t.Errorf("score out of range: %v", rec.TremorScore)
	}
	if *rec.P95Jitter < *rec.AvgJitter {
		t.Errorf("p95_jitter (%v) < avg_jitter (%v)", *rec.P95Jitter, *rec.AvgJitter)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
