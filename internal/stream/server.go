//go:build cgo
// +build cgo

package stream

import (
	"encoding/json"
	"image"
	"log"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MiFaceDEV/miface/internal/capture"
	"github.com/MiFaceDEV/miface/internal/config"
	"github.com/MiFaceDEV/miface/internal/detect"
	"github.com/MiFaceDEV/miface/internal/overlay"
	"github.com/MiFaceDEV/miface/internal/session"
	"github.com/MiFaceDEV/miface/internal/smooth"
	"github.com/MiFaceDEV/miface/internal/store"
)

// tickInterval is the pipeline's fixed cadence (spec §5 "Pipeline task").
const tickInterval = time.Second / 30

// persistQueueDepth bounds the persistence task's backlog; overflow
// blocks the pipeline rather than losing a completed session (spec §5).
const persistQueueDepth = 8

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server owns the full capture->detect->smooth->session->overlay
// pipeline and serves its output over HTTP/duplex (spec §5/§6, C6/C10).
type Server struct {
	camera   capture.Source
	detector *detect.Detector
	smoother *smooth.Smoother
	ctrl     *session.Controller
	hub      *Hub
	store    *store.Store

	persistCh chan session.SessionRecord

	latest     atomic.Value // session.MetricsSnapshot
	latestJPEG atomic.Value // []byte

	preview *overlay.PreviewWindow

	wasComplete bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// persistSink adapts Server to session.RecordSink: finalized records
// are queued for the persistence task rather than written inline on
// the pipeline goroutine (spec §5 "Persistence task").
type persistSink struct{ s *Server }

func (p persistSink) Append(r session.SessionRecord) error {
	p.s.persistCh <- r // blocks on overflow, by design (spec §5 backpressure)
	return nil
}

// New wires the pipeline from configuration. st may be nil to disable
// persistence (tests only); led may be nil to disable the LED gateway.
func New(cfg *config.Config, cam capture.Source, st *store.Store, led session.LedSink) *Server {
	det := detect.New(cfg.HsvRange())
	sm := smooth.New(cfg.Tracking.StabilityWindow)

	s := &Server{
		camera:    cam,
		detector:  det,
		smoother:  sm,
		hub:       NewHub(),
		store:     st,
		persistCh: make(chan session.SessionRecord, persistQueueDepth),
		stopCh:    make(chan struct{}),
	}
	frameCentre := image.Pt(cfg.Camera.Width/2, cfg.Camera.Height/2)
	s.ctrl = session.New(cfg.HsvRange(), frameCentre, det, led, persistSink{s})
	s.latest.Store(session.MetricsSnapshot{})
	s.latestJPEG.Store([]byte(nil))
	return s
}

// EnablePreview opens a local debug window mirroring the pipeline's
// overlaid output. Only valid before Run; ignored if called twice.
func (s *Server) EnablePreview() {
	if s.preview != nil {
		return
	}
	s.preview = overlay.NewPreviewWindow("steadyscript")
}

// PreviewQuit returns the channel closed when the operator presses
// 'q' in the local preview window, or nil if no preview is enabled
// (a nil channel blocks forever in a select, which is the desired
// no-op behavior here).
func (s *Server) PreviewQuit() <-chan struct{} {
	if s.preview == nil {
		return nil
	}
	return s.preview.Quit()
}

// Run starts the pipeline and persistence tasks. Blocks until Stop is called.
func (s *Server) Run() {
	go s.persistLoop()
	s.pipelineLoop()
}

// Stop signals the pipeline to exit.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.preview != nil {
			s.preview.Close()
		}
	})
}

func (s *Server) persistLoop() {
	for {
		select {
		case rec := <-s.persistCh:
			if s.store != nil {
				if err := s.store.Append(rec); err != nil {
					log.Printf("stream: persisting session %s failed: %v", rec.ID, err)
				}
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Server) pipelineLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Server) tick() {
	frame, err := s.camera.Read()
	if err != nil {
		log.Printf("stream: capture read failed: %v", err)
		return
	}
	defer frame.Close()

	obs := s.detector.Detect(frame.Mat)
	s.smoother.Observe(obs.Detected, obs.Position)

	pos, smoothedOK := s.smoother.SmoothedPosition()
	detected := obs.Detected && smoothedOK
	jitterNow := s.smoother.JitterNow()

	snap := s.ctrl.Tick(detected, pos, jitterNow, time.Now())
	s.latest.Store(snap)

	overlay.Draw(&frame.Mat, snap)
	jpeg, err := overlay.EncodeJPEG(frame.Mat)
	if err != nil {
		log.Printf("stream: encoding frame failed: %v", err)
		return
	}
	s.latestJPEG.Store(jpeg)
	if s.preview != nil {
		s.preview.Show(frame.Mat)
	}

	// Final metrics message must precede session_complete on a single
	// client's channel (spec §5 ordering guarantee); broadcasting in
	// this order over the same per-client channel preserves that.
	s.hub.BroadcastFrame(jpeg)
	s.hub.BroadcastMetrics(toMetricsData(snap))

	justCompleted := snap.SessionState == session.StateComplete && !s.wasComplete
	s.wasComplete = snap.SessionState == session.StateComplete
	if justCompleted {
		if rec := s.ctrl.LastRecord(); rec != nil {
			s.hub.BroadcastSessionComplete(newSessionCompleteMessage(*rec))
		}
	}
}

// LatestSnapshot returns the last published metrics snapshot, for
// GET /tracking_data (spec §4.6).
func (s *Server) LatestSnapshot() session.MetricsSnapshot {
	return s.latest.Load().(session.MetricsSnapshot)
}

// Mux builds the HTTP router for the server's external surface (spec §6).
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/video_feed", s.handleVideoFeed)
	mux.HandleFunc("/tracking_data", s.handleTrackingData)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/session/start", s.handleSessionStart)
	mux.HandleFunc("/session/stop", s.handleSessionStop)
	mux.HandleFunc("/hsv", s.handleHSV)
	mux.HandleFunc("/ws/game2", s.handleDuplex)
	return mux
}

func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			jpeg, _ := s.latestJPEG.Load().([]byte)
			if len(jpeg) == 0 {
				continue
			}
			w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n"))
			w.Write(jpeg)
			w.Write([]byte("\r\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handleTrackingData(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toMetricsData(s.LatestSnapshot()))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "session history is disabled", http.StatusServiceUnavailable)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			limit = n
		}
	}
	hist, err := s.store.Recent(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(hist)
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.SessionStart(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.SessionStop(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHSV(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Lower [3]int `json:"lower"`
		Upper [3]int `json:"upper"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	rng := config.HsvRange{
		HLo: body.Lower[0], SLo: body.Lower[1], VLo: body.Lower[2],
		HHi: body.Upper[0], SHi: body.Upper[1], VHi: body.Upper[2],
	}
	s.ctrl.HSVUpdate(rng)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDuplex(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("stream: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	c := s.hub.register()
	defer s.hub.unregister(c)

	connected, _ := json.Marshal(newConnectedMessage())
	if err := conn.WriteMessage(websocket.TextMessage, connected); err != nil {
		return
	}

	go s.readInbound(conn, c)

	for {
		select {
		case <-c.closeCh:
			return
		case msg, ok := <-c.others:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case msg, ok := <-c.frames:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) readInbound(conn *websocket.Conn, c *client) {
	defer s.hub.unregister(c)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("stream: ignoring malformed control message: %v", err)
			continue
		}
		s.applyControl(c, msg)
	}
}

// applyControl dispatches one inbound control message (spec §4.6:
// "Unknown types are ignored with a warning — never fatal"). A
// rejected known command is echoed back to the originating client as
// an "error" message (spec §4.4 table, §7 InvalidControl).
func (s *Server) applyControl(c *client, msg inbound) {
	var err error
	switch msg.Type {
	case "mode_switch":
		err = s.ctrl.ModeSwitch(msg.Data.Mode)
	case "session_start":
		err = s.ctrl.SessionStart()
	case "session_stop":
		err = s.ctrl.SessionStop()
	case "calibration_click":
		err = s.ctrl.CalibrationClick(image.Pt(msg.Data.X, msg.Data.Y))
	case "bpm_change":
		err = s.ctrl.BPMChange(msg.Data.Delta)
	case "hsv_update":
		r := config.HsvRange{
			HLo: msg.Data.Lower[0], SLo: msg.Data.Lower[1], VLo: msg.Data.Lower[2],
			HHi: msg.Data.Upper[0], SHi: msg.Data.Upper[1], VHi: msg.Data.Upper[2],
		}
		s.ctrl.HSVUpdate(r)
	case "dismiss":
		err = s.ctrl.Dismiss()
	default:
		log.Printf("stream: unknown control message type %q", msg.Type)
		return
	}
	if err != nil {
		log.Printf("stream: control message %q rejected: %v", msg.Type, err)
		if out, marshalErr := json.Marshal(newErrorMessage(msg.Type, err)); marshalErr == nil {
			c.sendOther(out)
		}
	}
}
