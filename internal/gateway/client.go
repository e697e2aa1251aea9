package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu   sync.RWMutex
	keys map[string]bool // empty means every instrument
}

func newClient(h *Hub, conn *websocket.Conn, keys []string) *Client {
	c := &Client{
		conn: conn,
		send: make(chan []byte, h.cfg.ClientBuffer),
		hub:  h,
		keys: make(map[string]bool, len(keys)),
	}
	for _, k := range keys {
		c.keys[k] = true
	}
	return c
}

// clientMsg is a control message from the peer.
//
//	{"type":"SUBSCRIBE","keys":["NSE:2885"]}
//	{"type":"UNSUBSCRIBE","keys":["NSE:2885"]}
//	{"type":"PING","ping":1700000000000}
type clientMsg struct {
	Type string   `json:"type"`
	Keys []string `json:"keys"`
	Ping int64    `json:"ping"`
}

func (c *Client) wants(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys) == 0 || c.keys[key]
}

func (c *Client) subscribe(keys []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var added []string
	for _, k := range keys {
		if k == "" || c.keys[k] {
			continue
		}
		c.keys[k] = true
		added = append(added, k)
	}
	return added
}

func (c *Client) unsubscribe(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.keys, k)
	}
}

// sendLatest queues the latest envelope of every instrument in keys (all
// subscribed instruments when keys is nil) that is newer than since.
func (c *Client) sendLatest(keys []string, since time.Time) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	if keys == nil {
		for k := range c.hub.latest {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		e, ok := c.hub.latest[k]
		if !ok || !c.wants(k) {
			continue
		}
		if !since.IsZero() && !e.at.After(since) {
			continue
		}
		select {
		case c.send <- e.envelope:
		default:
		}
	}
}

func (c *Client) reply(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

func (c *Client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Coalesce queued messages into one frame, newline separated
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	readWait := 2 * c.hub.cfg.PingInterval
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMsg
		if json.Unmarshal(raw, &msg) != nil {
			c.reply(map[string]string{"type": "ERROR", "error": "invalid JSON"})
			continue
		}

		switch msg.Type {
		case "SUBSCRIBE":
			if added := c.subscribe(msg.Keys); len(added) > 0 {
				c.sendLatest(added, time.Time{})
			}
			c.reply(map[string]any{"type": "SUBSCRIBED", "keys": msg.Keys})
		case "UNSUBSCRIBE":
			c.unsubscribe(msg.Keys)
			c.reply(map[string]any{"type": "UNSUBSCRIBED", "keys": msg.Keys})
		case "PING":
			c.reply(map[string]any{"type": "PONG", "ping": msg.Ping, "ts": time.Now().UnixMilli()})
		default:
			c.reply(map[string]string{"type": "ERROR", "error": "unknown message type " + msg.Type})
		}
	}
}
