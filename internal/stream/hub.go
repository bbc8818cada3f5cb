package stream

import (
	"encoding/json"
	"sync"
)

// frameQueueDepth bounds the per-client outbound frame backlog; excess
// frames are dropped, oldest first (spec §4.6/§5 backpressure).
const frameQueueDepth = 2

// client is one connected duplex consumer of the pipeline's broadcast
// output.
type client struct {
	id      uint64
	frames  chan []byte // bounded, lossy
	others  chan []byte // metrics/session_complete/connected, never dropped
	closeCh chan struct{}
	once    sync.Once
}

func newClient(id uint64) *client {
	return &client{
		id:      id,
		frames:  make(chan []byte, frameQueueDepth),
		others:  make(chan []byte, 64),
		closeCh: make(chan struct{}),
	}
}

func (c *client) sendFrame(msg []byte) {
	select {
	case c.frames <- msg:
	default:
		// Drop the oldest queued frame, then enqueue the new one.
		select {
		case <-c.frames:
		default:
		}
		select {
		case c.frames <- msg:
		default:
		}
	}
}

func (c *client) sendOther(msg []byte) {
	select {
	case c.others <- msg:
	case <-c.closeCh:
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.closeCh) })
}

// Hub fans out frame/metrics/session_complete messages to every
// connected client (spec §4.6: "broadcasting the same live session to
// multiple clients is explicitly supported").
type Hub struct {
	mu      sync.Mutex
	nextID  uint64
	clients map[uint64]*client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[uint64]*client)}
}

func (h *Hub) register() *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	c := newClient(h.nextID)
	h.clients[c.id] = c
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) snapshot() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// BroadcastFrame publishes a frame message to every client, dropping
// the oldest queued frame per client on backpressure.
func (h *Hub) BroadcastFrame(jpeg []byte) {
	msg, err := json.Marshal(newFrameMessage(jpeg))
	if err != nil {
		return
	}
	for _, c := range h.snapshot() {
		c.sendFrame(msg)
	}
}

// BroadcastMetrics publishes a metrics message to every client.
func (h *Hub) BroadcastMetrics(d metricsData) {
	msg, err := json.Marshal(envelope{Type: "metrics", Data: d})
	if err != nil {
		return
	}
	for _, c := range h.snapshot() {
		c.sendOther(msg)
	}
}

// BroadcastSessionComplete publishes a session_complete message to
// every client. Ordering guarantee (spec §5): callers must invoke this
// only after the session's final metrics message has been broadcast.
func (h *Hub) BroadcastSessionComplete(env envelope) {
	msg, err := json.Marshal(env)
	if err != nil {
		return
	}
	for _, c := range h.snapshot() {
		c.sendOther(msg)
	}
}
