// Package led drives the optional hardware LED feedback gateway over
// a serial connection (spec §4.8, C9).
package led

import (
	"log"
	"os"
	"sync"
	"time"

	"periph.io/x/periph/host"
)

// baudRate is the fixed LED controller speed (spec §4.8).
const baudRate = 9600

// logThrottle bounds how often a persistent write failure is logged
// (spec §7 LedTransportFailure: "log once per minute").
const logThrottle = time.Minute

// Gateway writes boolean inside/outside-circle updates to a serial
// device as single ASCII bytes ('1' or '0'). With no device path
// configured it is a no-op sink (spec §4.8).
type Gateway struct {
	mu       sync.Mutex
	port     *os.File
	lastLog  time.Time
	lastSent *bool
}

// Open opens path for reading and writing as a plain file. It does not
// configure the line speed: baudRate is not applied, and the device
// keeps whatever settings it already has. An empty path, or a path
// that fails to open, returns a no-op Gateway alongside the error —
// callers must get a usable *Gateway back in all cases, never a raw
// nil, so that storing the result in a session.LedSink interface value
// can never produce a non-nil interface wrapping a nil pointer (spec
// §7 LedTransportFailure: a misconfigured gateway must never crash the
// pipeline). host.Init() registers the platform's periph drivers;
// actual byte framing for the line is a fixed ASCII protocol the
// controller side agrees on, so no UART-level line discipline beyond
// raw byte writes is required.
func Open(path string) (*Gateway, error) {
	if path == "" {
		return &Gateway{}, nil
	}

	if _, err := host.Init(); err != nil {
		log.Printf("led: periph host init failed (continuing without platform drivers): %v", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return &Gateway{}, err
	}
	return &Gateway{port: f}, nil
}

// Set writes '1' for inside, '0' for outside. Failures are logged (at
// most once per logThrottle) and never returned to the caller: LED
// transport failure must not affect the tracking pipeline (spec §4.8,
// §7 LedTransportFailure).
func (g *Gateway) Set(inside bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.port == nil {
		return
	}
	if g.lastSent != nil && *g.lastSent == inside {
		return
	}

	b := byte('0')
	if inside {
		b = '1'
	}

	if _, err := g.port.Write([]byte{b}); err != nil {
		if time.Since(g.lastLog) >= logThrottle {
			log.Printf("led: write failed: %v", err)
			g.lastLog = time.Now()
		}
		return
	}
	g.lastSent = &inside
}

// Close releases the underlying serial device, if any.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.port == nil {
		return nil
	}
	return g.port.Close()
}
