// Package config loads SteadyScript's runtime configuration.
//
// Configuration is primarily sourced from environment variables (see
// spec §6), bound through viper with sane defaults. An optional TOML
// file, in the same spirit as the teacher's configuration format, can
// overlay those defaults for operators who prefer a checked-in file
// over exported environment variables.
//
// Example usage:
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Camera device: %d\n", cfg.Camera.DeviceID)
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// PenColor selects one of the built-in HSV presets.
type PenColor string

// Supported PEN_COLOR values.
const (
	PenRed   PenColor = "red"
	PenGreen PenColor = "green"
	PenBlue  PenColor = "blue"
)

// HsvRange is six OpenCV-convention HSV bounds (H in [0,179], S/V in [0,255]).
type HsvRange struct {
	HLo, HHi int
	SLo, SHi int
	VLo, VHi int
}

// Presets holds the default HSV range for each supported pen color (spec §6).
var Presets = map[PenColor]HsvRange{
	PenRed:   {HLo: 0, HHi: 10, SLo: 100, SHi: 255, VLo: 100, VHi: 255},
	PenGreen: {HLo: 35, HHi: 85, SLo: 50, SHi: 255, VLo: 50, VHi: 255},
	PenBlue:  {HLo: 100, HHi: 130, SLo: 50, SHi: 255, VLo: 50, VHi: 255},
}

// CameraConfig holds webcam capture settings.
type CameraConfig struct {
	DeviceID int
	Width    int
	Height   int
	FPS      int
}

// TrackingConfig holds smoothing/jitter window settings.
type TrackingConfig struct {
	PenColor        PenColor
	StabilityWindow int
	JitterLowPx     float64
	JitterHighPx    float64
}

// LedConfig holds the optional LED feedback gateway settings.
type LedConfig struct {
	// SerialPath is the device path (e.g. /dev/ttyUSB0). Empty disables the gateway.
	SerialPath string
}

// StoreConfig holds session-store settings.
type StoreConfig struct {
	SessionsFile string
}

// ServerConfig holds HTTP/duplex server settings.
type ServerConfig struct {
	Addr string
}

// Config is the complete SteadyScript runtime configuration.
type Config struct {
	Camera   CameraConfig
	Tracking TrackingConfig
	Led      LedConfig
	Store    StoreConfig
	Server   ServerConfig
}

// Default returns the default configuration (spec §6 defaults).
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			DeviceID: 0,
			Width:    640,
			Height:   480,
			FPS:      30,
		},
		Tracking: TrackingConfig{
			PenColor:        PenRed,
			StabilityWindow: 30,
			JitterLowPx:     5,
			JitterHighPx:    15,
		},
		Led: LedConfig{
			SerialPath: "",
		},
		Store: StoreConfig{
			SessionsFile: "./data/sessions.json",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load builds the configuration from built-in defaults, an optional
// TOML file at path, and environment variables. An environment
// variable takes precedence over the same key in the file, and the file
// over the defaults. If path is empty, only environment variables (and
// built-in defaults) apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("camera_index", cfg.Camera.DeviceID)
	v.SetDefault("pen_color", string(cfg.Tracking.PenColor))
	v.SetDefault("stability_window_size", cfg.Tracking.StabilityWindow)
	v.SetDefault("jitter_threshold_low", cfg.Tracking.JitterLowPx)
	v.SetDefault("jitter_threshold_high", cfg.Tracking.JitterHighPx)
	v.SetDefault("led_serial_path", cfg.Led.SerialPath)
	v.SetDefault("sessions_file", cfg.Store.SessionsFile)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else {
			var overlay map[string]interface{}
			if _, err := toml.Decode(string(data), &overlay); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
			if err := v.MergeConfigMap(overlay); err != nil {
				return nil, fmt.Errorf("merging config file: %w", err)
			}
		}
	}

	cfg.Camera.DeviceID = v.GetInt("camera_index")
	cfg.Tracking.PenColor = PenColor(v.GetString("pen_color"))
	cfg.Tracking.StabilityWindow = v.GetInt("stability_window_size")
	cfg.Tracking.JitterLowPx = v.GetFloat64("jitter_threshold_low")
	cfg.Tracking.JitterHighPx = v.GetFloat64("jitter_threshold_high")
	cfg.Led.SerialPath = v.GetString("led_serial_path")
	cfg.Store.SessionsFile = v.GetString("sessions_file")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 {
		return fmt.Errorf("camera width must be positive, got %d", c.Camera.Width)
	}
	if c.Camera.Height <= 0 {
		return fmt.Errorf("camera height must be positive, got %d", c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("camera FPS must be positive, got %d", c.Camera.FPS)
	}
	if c.Tracking.StabilityWindow <= 0 {
		return fmt.Errorf("stability window must be positive, got %d", c.Tracking.StabilityWindow)
	}
	switch c.Tracking.PenColor {
	case PenRed, PenGreen, PenBlue:
	default:
		return fmt.Errorf("unknown pen color %q", c.Tracking.PenColor)
	}
	return nil
}

// HsvRange returns the configured HSV preset for the current pen color.
func (c *Config) HsvRange() HsvRange {
	return Presets[c.Tracking.PenColor]
}
