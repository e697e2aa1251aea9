// Package gateway serves published trend results to dashboards over
// WebSocket and a small REST surface.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/barisx/Indicators/internal/model"
)

// HubConfig tunes per-client buffering and keepalive.
type HubConfig struct {
	ClientBuffer int           // queued envelopes per client before drops
	PingInterval time.Duration // WebSocket ping period
	ReplaySize   int           // envelopes kept per instrument for backfill
}

// Hub fans trend results out to WebSocket clients and keeps the latest
// result per instrument for late joiners and the /state endpoint.
type Hub struct {
	cfg HubConfig

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	keySeqs map[string]int64 // per-instrument sequence for gap detection
	replay  map[string]*ReplayBuffer
	seq     int64

	// Latency tracks frame-time to emit latency.
	Latency *LatencyTracker

	// OnClientCount is called with the client count after every change.
	OnClientCount func(n int)

	now func() time.Time
}

type latestEntry struct {
	result   model.TrendResult
	envelope []byte
	at       time.Time
}

// NewHub creates a Hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = 256
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReplaySize <= 0 {
		cfg.ReplaySize = 500
	}
	return &Hub{
		cfg:     cfg,
		clients: make(map[*Client]bool),
		latest:  make(map[string]latestEntry),
		keySeqs: make(map[string]int64),
		replay:  make(map[string]*ReplayBuffer),
		Latency: NewLatencyTracker(10000),
		now:     time.Now,
	}
}

// Run broadcasts every result read from in. Blocks until ctx is cancelled
// or in is closed.
func (h *Hub) Run(ctx context.Context, in <-chan model.TrendResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-in:
			if !ok {
				return
			}
			h.Broadcast(r)
		}
	}
}

// Broadcast records r as the instrument's latest result and sends it to
// every client subscribed to the instrument. Slow clients miss messages
// rather than block the hub.
func (h *Hub) Broadcast(r model.TrendResult) {
	now := h.now().UTC()
	key := r.Key()

	if h.Latency != nil && !r.TS.IsZero() {
		h.Latency.Record(now.Sub(r.TS))
	}

	h.mu.Lock()
	h.seq++
	h.keySeqs[key]++
	keySeq := h.keySeqs[key]
	env := buildEnvelope(key, r.JSON(), now, h.seq, keySeq)
	h.latest[key] = latestEntry{result: r, envelope: env, at: now}
	rb, exists := h.replay[key]
	if !exists {
		rb = NewReplayBuffer(h.cfg.ReplaySize)
		h.replay[key] = rb
	}
	h.mu.Unlock()

	rb.Push(keySeq, env)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(key) {
			continue
		}
		select {
		case c.send <- env:
		default:
		}
	}
}

// Register attaches a WebSocket connection as a client subscribed to keys
// (all instruments when empty) and sends it the latest results newer
// than since.
func (h *Hub) Register(conn *websocket.Conn, keys []string, since time.Time) *Client {
	c := newClient(h, conn, keys)
	conn.EnableWriteCompression(true)
	h.addClient(c)

	c.sendLatest(nil, since)
	go c.writePump(h.cfg.PingInterval)
	go c.readPump()
	return c
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", n)
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}

// RemoveClient detaches c and closes its send queue. Safe to call twice.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}

// Latest returns the most recent result for an "EXCHANGE:TOKEN" key.
func (h *Hub) Latest(key string) (model.TrendResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.latest[key]
	return e.result, ok
}

// LatestAll returns a copy of the latest result per instrument.
func (h *Hub) LatestAll() map[string]model.TrendResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]model.TrendResult, len(h.latest))
	for k, e := range h.latest {
		out[k] = e.result
	}
	return out
}

// Missed returns buffered envelopes for key with per-instrument sequence
// in [fromSeq, toSeq].
func (h *Hub) Missed(key string, fromSeq, toSeq int64) []json.RawMessage {
	h.mu.RLock()
	rb, exists := h.replay[key]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	out := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
