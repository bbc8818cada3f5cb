// Package stream implements the transport layer: the MJPEG and duplex
// WebSocket surfaces, the HTTP control endpoints, and the 30 Hz
// pipeline that drives C2 → C3 → C4 → C5 and publishes their output
// to connected clients (spec §4.6/§5/§6, C6/C10).
package stream

import (
	"encoding/base64"
	"image"

	"github.com/MiFaceDEV/miface/internal/session"
)

// envelope is the wire shape of every outbound duplex message: a
// `type` discriminator plus an arbitrary payload (spec §4.6).
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// frameData is the payload of a "frame" outbound message.
type frameData struct {
	Data string `json:"data"` // base64 JPEG
}

func newFrameMessage(jpeg []byte) envelope {
	return envelope{Type: "frame", Data: frameData{Data: base64.StdEncoding.EncodeToString(jpeg)}}
}

// metricsData is the payload of a "metrics" outbound message (spec §4.6).
type metricsData struct {
	Mode             session.Mode           `json:"mode"`
	Position         image.Point            `json:"position"`
	MarkerDetected   bool                   `json:"marker_detected"`
	Jitter           float64                `json:"jitter"`
	P95Jitter        float64                `json:"p95_jitter"`
	LateralJitter    *float64               `json:"lateral_jitter,omitempty"`
	P95LateralJitter *float64               `json:"p95_lateral_jitter,omitempty"`
	StabilityLevel   session.StabilityLevel `json:"stability_level,omitempty"`
	FeedbackStatus   session.FeedbackStatus `json:"feedback_status,omitempty"`
	Score            float64                `json:"score"`
	SessionState     session.State          `json:"session_state"`
	TimeRemaining    float64                `json:"time_remaining"`
	Elapsed          float64                `json:"elapsed"`
	BPM              *int                   `json:"bpm,omitempty"`
	BeatCount        *int                   `json:"beat_count,omitempty"`
}

func newMetricsMessage(snap session.MetricsSnapshot) envelope {
	return envelope{Type: "metrics", Data: toMetricsData(snap)}
}

func toMetricsData(snap session.MetricsSnapshot) metricsData {
	d := metricsData{
		Mode:           snap.Mode,
		Position:       snap.Position,
		MarkerDetected: snap.MarkerDetected,
		Jitter:         snap.Jitter,
		P95Jitter:      snap.P95Jitter,
		Score:          snap.Score,
		SessionState:   snap.SessionState,
		TimeRemaining:  snap.TimeRemaining.Seconds(),
		Elapsed:        snap.Elapsed.Seconds(),
	}
	switch snap.Mode {
	case session.ModeHold:
		d.StabilityLevel = snap.StabilityLevel
	case session.ModeFollow:
		lat, p95Lat := snap.LateralJitter, snap.P95LateralJitter
		d.LateralJitter = &lat
		d.P95LateralJitter = &p95Lat
		d.FeedbackStatus = snap.FeedbackStatus
		bpm, beats := snap.BPM, snap.BeatCount
		d.BPM = &bpm
		d.BeatCount = &beats
	}
	return d
}

func newSessionCompleteMessage(rec session.SessionRecord) envelope {
	return envelope{Type: "session_complete", Data: rec}
}

func newConnectedMessage() envelope {
	return envelope{Type: "connected"}
}

// errorData is the payload of an "error" outbound message: a rejected
// control command is echoed back with the reason (spec §4.4 table,
// §7 InvalidControl).
type errorData struct {
	Command string `json:"command"`
	Reason  string `json:"reason"`
}

func newErrorMessage(command string, reason error) envelope {
	return envelope{Type: "error", Data: errorData{Command: command, Reason: reason.Error()}}
}

// inbound is the shape of a client->server control message (spec §4.6:
// "mirror the commands listed in §4.4").
type inbound struct {
	Type string          `json:"type"`
	Data inboundData     `json:"data"`
}

type inboundData struct {
	Mode   session.Mode `json:"mode"`
	X      int          `json:"x"`
	Y      int          `json:"y"`
	Delta  int          `json:"delta"`
	Lower  [3]int       `json:"lower"`
	Upper  [3]int       `json:"upper"`
}
