package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Camera.DeviceID != 0 {
		t.Errorf("expected DeviceID 0, got %d", cfg.Camera.DeviceID)
	}
	if cfg.Camera.Width != 640 {
		t.Errorf("expected Width 640, got %d", cfg.Camera.Width)
	}
	if cfg.Camera.Height != 480 {
		t.Errorf("expected Height 480, got %d", cfg.Camera.Height)
	}
	if cfg.Camera.FPS != 30 {
		t.Errorf("expected FPS 30, got %d", cfg.Camera.FPS)
	}
	if cfg.Tracking.PenColor != PenRed {
		t.Errorf("expected PenColor red, got %s", cfg.Tracking.PenColor)
	}
	if cfg.Tracking.StabilityWindow != 30 {
		t.Errorf("expected StabilityWindow 30, got %d", cfg.Tracking.StabilityWindow)
	}
	if cfg.Tracking.JitterLowPx != 5 || cfg.Tracking.JitterHighPx != 15 {
		t.Errorf("unexpected jitter thresholds: %v/%v", cfg.Tracking.JitterLowPx, cfg.Tracking.JitterHighPx)
	}
	if cfg.Store.SessionsFile != "./data/sessions.json" {
		t.Errorf("unexpected sessions file default: %s", cfg.Store.SessionsFile)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("unexpected error for non-existent file: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected default config for non-existent file")
	}
}

func TestLoad_ValidFile(t *testing.T) {
	content := `
camera_index = 1
pen_color = "blue"
stability_window_size = 20
jitter_threshold_low = 3
jitter_threshold_high = 12
sessions_file = "/tmp/sessions.json"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Camera.DeviceID != 1 {
		t.Errorf("expected DeviceID 1, got %d", cfg.Camera.DeviceID)
	}
	if cfg.Tracking.PenColor != PenBlue {
		t.Errorf("expected PenColor blue, got %s", cfg.Tracking.PenColor)
	}
	if cfg.Tracking.StabilityWindow != 20 {
		t.Errorf("expected StabilityWindow 20, got %d", cfg.Tracking.StabilityWindow)
	}
	if cfg.Store.SessionsFile != "/tmp/sessions.json" {
		t.Errorf("expected overridden sessions file, got %s", cfg.Store.SessionsFile)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invalid.toml")
	if err := os.WriteFile(path, []byte("invalid [ toml"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestValidate_InvalidWidth(t *testing.T) {
	cfg := Default()
	cfg.Camera.Width = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid width")
	}
}

func TestValidate_InvalidHeight(t *testing.T) {
	cfg := Default()
	cfg.Camera.Height = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid height")
	}
}

func TestValidate_InvalidFPS(t *testing.T) {
	cfg := Default()
	cfg.Camera.FPS = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid FPS")
	}
}

func TestValidate_InvalidStabilityWindow(t *testing.T) {
	cfg := Default()
	cfg.Tracking.StabilityWindow = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid stability window")
	}
}

func TestValidate_InvalidPenColor(t *testing.T) {
	cfg := Default()
	cfg.Tracking.PenColor = "purple"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown pen color")
	}
}

func TestHsvRange(t *testing.T) {
	cfg := Default()
	hsv := cfg.HsvRange()
	if hsv != Presets[PenRed] {
		t.Errorf("expected red preset, got %+v", hsv)
	}
}
