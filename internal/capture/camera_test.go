//go:build cgo
// +build cgo

package capture

import "testing"

func TestCamera_OpenAndRead(t *testing.T) {
	cam := NewCamera()

	if err := cam.Open(0, 640, 480, 30); err != nil {
		t.Skipf("skipping: no camera available: %v", err)
	}
	defer cam.Close()

	frame, err := cam.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	defer frame.Close()

	if frame.Width <= 0 || frame.Height <= 0 {
		t.Errorf("invalid frame dimensions: %dx%d", frame.Width, frame.Height)
	}
}

func TestCamera_DoubleOpen(t *testing.T) {
	cam := NewCamera()
	if err := cam.Open(0, 640, 480, 30); err != nil {
		t.Skipf("skipping: no camera available: %v", err)
	}
	defer cam.Close()

	if err := cam.Open(0, 640, 480, 30); err == nil {
		t.Error("expected error opening an already-opened camera")
	}
}

func TestCamera_ReadWithoutOpen(t *testing.T) {
	cam := NewCamera()
	if _, err := cam.Read(); err == nil {
		t.Error("expected error reading from unopened camera")
	}
}

func TestCamera_InvalidDevice(t *testing.T) {
	cam := NewCamera()
	err := cam.Open(999, 640, 480, 30)
	if err == nil {
		cam.Close()
		t.Skip("device 999 unexpectedly exists")
	}
}

func TestCamera_CloseIdempotent(t *testing.T) {
	cam := NewCamera()
	if err := cam.Open(0, 640, 480, 30); err != nil {
		t.Skipf("skipping: no camera available: %v", err)
	}
	if err := cam.Close(); err != nil {
		t.Errorf("first close failed: %v", err)
	}
	if err := cam.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestEnumerateCameras(t *testing.T) {
	devices := EnumerateCameras(5)
	t.Logf("found %d camera device(s): %v", len(devices), devices)
}
