//go:build cgo
// +build cgo

// Package capture owns the webcam capture device (spec §4.1, C1).
//
// Implementation notes (carried over from the teacher's OpenCV camera
// wrapper):
//   - Uses the V4L2 backend on Linux to avoid GStreamer "Internal data
//     stream error" issues with consumer USB webcams.
//   - Sets the MJPEG FourCC explicitly for broad USB webcam compatibility.
//   - Read is blocking and returns the next frame the driver delivers.
//     Frames are not discarded when the downstream pipeline is slow:
//     neither this package nor internal/stream's pipeline loop (one
//     Read per tick) implements "latest frame wins".
package capture

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

const fourccMJPEG = 0x47504A4D

// ErrDeviceUnavailable is returned when the capture device cannot be opened.
// The caller treats this as fatal (spec §7).
var ErrDeviceUnavailable = fmt.Errorf("capture: device unavailable")

// Frame is a single captured frame in BGR format. Callers must call
// Close when done; frames are never queued or persisted (spec §3).
type Frame struct {
	Mat    gocv.Mat
	Width  int
	Height int
}

// Close releases the frame's underlying pixel buffer.
func (f Frame) Close() error {
	return f.Mat.Close()
}

// Source is the interface for webcam capture backends (so the pipeline
// can be driven by a synthetic source in tests).
type Source interface {
	// Read blocks until a frame is available.
	Read() (Frame, error)
	Close() error
}

// Camera implements Source using OpenCV via GoCV.
type Camera struct {
	mu sync.Mutex

	deviceID int
	width    int
	height   int
	fps      int

	webcam *gocv.VideoCapture
	opened bool
}

// NewCamera creates an unopened camera source; Open selects the device.
func NewCamera() *Camera {
	return &Camera{}
}

// Open initializes the camera at the requested resolution/frame rate.
// Returns ErrDeviceUnavailable (wrapped) if the device cannot be opened.
func (c *Camera) Open(deviceID, width, height, fps int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opened {
		return fmt.Errorf("camera already opened")
	}

	webcam, err := gocv.OpenVideoCaptureWithAPI(deviceID, gocv.VideoCaptureV4L2)
	if err != nil {
		return fmt.Errorf("%w: device %d: %v", ErrDeviceUnavailable, deviceID, err)
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return fmt.Errorf("%w: device %d not found", ErrDeviceUnavailable, deviceID)
	}

	webcam.Set(gocv.VideoCaptureFOURCC, fourccMJPEG)
	if width > 0 {
		webcam.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	if fps > 0 {
		webcam.Set(gocv.VideoCaptureFPS, float64(fps))
	}

	c.deviceID = deviceID
	c.width = int(webcam.Get(gocv.VideoCaptureFrameWidth))
	c.height = int(webcam.Get(gocv.VideoCaptureFrameHeight))
	c.fps = int(webcam.Get(gocv.VideoCaptureFPS))
	c.webcam = webcam
	c.opened = true

	// Warm up: some cameras need a moment before frames are valid.
	warmup := gocv.NewMat()
	c.webcam.Read(&warmup)
	warmup.Close()

	return nil
}

// Read captures a single BGR frame. On a transient read failure the
// caller should reuse the previous frame (spec §7 TransientCapture);
// Read itself just reports the error.
func (c *Camera) Read() (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return Frame{}, fmt.Errorf("camera not opened")
	}

	mat := gocv.NewMat()
	if ok := c.webcam.Read(&mat); !ok {
		mat.Close()
		return Frame{}, fmt.Errorf("failed to read frame from camera")
	}
	if mat.Empty() {
		mat.Close()
		return Frame{}, fmt.Errorf("captured frame is empty")
	}

	return Frame{Mat: mat, Width: mat.Cols(), Height: mat.Rows()}, nil
}

// Close releases camera resources.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return nil
	}
	c.opened = false
	if c.webcam != nil {
		return c.webcam.Close()
	}
	return nil
}

// ActualResolution returns the resolution negotiated with the driver.
func (c *Camera) ActualResolution() (width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// ActualFPS returns the frame rate negotiated with the driver.
func (c *Camera) ActualFPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

// EnumerateCameras attempts to detect available camera devices. Best
// effort; absence of a device is not an error.
func EnumerateCameras(maxDevices int) []int {
	var devices []int
	if maxDevices <= 0 {
		maxDevices = 10
	}
	for i := 0; i < maxDevices; i++ {
		cam, err := gocv.OpenVideoCaptureWithAPI(i, gocv.VideoCaptureV4L2)
		if err != nil {
			continue
		}
		if cam.IsOpened() {
			devices = append(devices, i)
		}
		cam.Close()
	}
	return devices
}
