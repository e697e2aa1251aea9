package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/barisx/Indicators/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Mux is the route registration surface; *http.ServeMux and the metrics
// server both satisfy it.
type Mux interface {
	Handle(pattern string, h http.Handler)
}

// StateFallback loads a result the hub has not seen, e.g. from Redis after
// a restart. It returns (nil, nil) when nothing is stored.
type StateFallback func(ctx context.Context, key string) (*model.TrendResult, error)

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes mounts the WebSocket feed and REST endpoints on mux.
func RegisterRoutes(mux Mux, hub *Hub, fallback StateFallback) {
	mux.Handle("/ws", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		var since time.Time
		if v := r.URL.Query().Get("last_ts"); v != "" {
			since, _ = time.Parse(time.RFC3339Nano, v)
		}
		hub.Register(conn, splitKeys(r.URL.Query().Get("keys")), since)
	}))

	mux.Handle("/state", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		key := r.URL.Query().Get("key")
		if !validKey(key) {
			writeError(w, http.StatusBadRequest, "key must be EXCHANGE:TOKEN")
			return
		}

		if res, ok := hub.Latest(key); ok {
			writeJSON(w, res)
			return
		}
		if fallback != nil {
			res, err := fallback(r.Context(), key)
			if err != nil {
				log.Printf("[gateway] state fallback for %s: %v", key, err)
				writeError(w, http.StatusBadGateway, "state store unavailable")
				return
			}
			if res != nil {
				writeJSON(w, res)
				return
			}
		}
		writeError(w, http.StatusNotFound, "no state for "+key)
	}))

	mux.Handle("/api/trend/latest", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		writeJSON(w, hub.LatestAll())
	}))

	mux.Handle("/api/trend/missed", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		q := r.URL.Query()
		key := q.Get("key")
		from, errFrom := strconv.ParseInt(q.Get("from"), 10, 64)
		to, errTo := strconv.ParseInt(q.Get("to"), 10, 64)
		if !validKey(key) || errFrom != nil || errTo != nil || from > to {
			writeError(w, http.StatusBadRequest, "key, from and to are required")
			return
		}
		missed := hub.Missed(key, from, to)
		if missed == nil {
			missed = []json.RawMessage{}
		}
		writeJSON(w, missed)
	}))

	mux.Handle("/api/latency", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		writeJSON(w, struct {
			LatencySummary
			Clients int `json:"clients"`
		}{hub.Latency.Summary(), hub.ClientCount()})
	}))
}

func validKey(key string) bool {
	ex, tok, ok := strings.Cut(key, ":")
	return ok && ex != "" && tok != ""
}

func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); validKey(k) {
			keys = append(keys, k)
		}
	}
	return keys
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
