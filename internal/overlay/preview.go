//go:build cgo
// +build cgo

package overlay

import (
	"log"
	"runtime"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// dropLogThrottle bounds how often a busy preview window logs dropped
// frames, mirroring the LED gateway's own log-throttling convention
// for a non-fatal, best-effort sink.
const dropLogThrottle = 10 * time.Second

// quitKey is the keycode gocv.WaitKey returns for 'q', the operator's
// signal to close the local preview and, by extension, stop serving.
const quitKey = 'q'

// PreviewWindow is an optional local debug window that mirrors the
// pipeline's overlaid broadcast frames for an operator sitting at the
// machine. OpenCV's UI functions must run on a single dedicated OS
// thread on Linux/X11, so the window owns its own goroutine rather
// than being driven from the pipeline loop directly; Show is the only
// call the pipeline makes, and it never blocks.
type PreviewWindow struct {
	window   *gocv.Window
	frameCh  chan gocv.Mat
	closeCh  chan struct{}
	doneCh   chan struct{}
	quitCh   chan struct{}
	once     sync.Once
	quitOnce sync.Once
	initDone chan struct{}

	mu       sync.Mutex
	dropped  int
	lastDrop time.Time
}

// NewPreviewWindow opens a titled debug window. Blocks until the
// window has been created on its owning thread.
func NewPreviewWindow(title string) *PreviewWindow {
	p := &PreviewWindow{
		frameCh:  make(chan gocv.Mat, 1),
		closeCh:  make(chan struct{}),
		doneCh:   make(chan struct{}),
		quitCh:   make(chan struct{}),
		initDone: make(chan struct{}),
	}

	go p.loop(title)
	<-p.initDone

	return p
}

func (p *PreviewWindow) loop(title string) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	p.window = gocv.NewWindow(title)
	close(p.initDone)

	for {
		select {
		case frame := <-p.frameCh:
			p.window.IMShow(frame)
			key := p.window.WaitKey(1)
			frame.Close()
			if key == quitKey {
				p.quitOnce.Do(func() { close(p.quitCh) })
			}
		case <-p.closeCh:
			if p.window != nil {
				p.window.Close()
			}
			close(p.doneCh)
			return
		}
	}
}

// Show enqueues frame for display, cloning it so the caller retains
// ownership of the original. If the window is still busy with the
// previous frame, this one is dropped rather than blocking the
// pipeline; repeated drops are logged at most once per
// dropLogThrottle rather than per frame.
func (p *PreviewWindow) Show(frame gocv.Mat) {
	if frame.Empty() {
		return
	}
	cloned := frame.Clone()
	select {
	case p.frameCh <- cloned:
	default:
		cloned.Close()
		p.recordDrop()
	}
}

func (p *PreviewWindow) recordDrop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropped++
	if time.Since(p.lastDrop) >= dropLogThrottle {
		log.Printf("overlay: preview window dropped %d frame(s) since last report", p.dropped)
		p.dropped = 0
		p.lastDrop = time.Now()
	}
}

// Quit is closed when the operator presses 'q' in the preview window,
// so the caller can treat it the same as an interrupt signal.
func (p *PreviewWindow) Quit() <-chan struct{} {
	return p.quitCh
}

// Close shuts down the window and its goroutine.
func (p *PreviewWindow) Close() error {
	p.once.Do(func() {
		close(p.closeCh)
		<-p.doneCh
	})
	return nil
}
