package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/barisx/Indicators/internal/model"
)

// envelope is the parsed WS message structure.
type envelope struct {
	Type   string            `json:"type"`
	Key    string            `json:"key"`
	Data   model.TrendResult `json:"data"`
	TS     string            `json:"ts"`
	Seq    int64             `json:"seq"`
	KeySeq int64             `json:"key_seq"`
}

func trendResult(token string, seq int64, projection float64) model.TrendResult {
	return model.TrendResult{
		Token:      token,
		Exchange:   "NSE",
		Seq:        seq,
		TS:         time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC),
		Projection: projection,
		Is:         model.SlotView{Kind: "directional", State: "fall"},
	}
}

// fakeClient registers a client without a connection; only its send
// queue is exercised.
func fakeClient(h *Hub, keys ...string) *Client {
	c := newClient(h, nil, keys)
	h.addClient(c)
	return c
}

func recv(t *testing.T, c *Client) envelope {
	t.Helper()
	select {
	case raw := <-c.send:
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, raw)
		}
		return env
	default:
		t.Fatal("expected a queued envelope")
	}
	return envelope{}
}

func TestBuildEnvelope(t *testing.T) {
	r := trendResult("2885", 9, 2780)
	now := time.Date(2024, 1, 2, 9, 15, 1, 0, time.UTC)

	var env envelope
	if err := json.Unmarshal(buildEnvelope(r.Key(), r.JSON(), now, 42, 7), &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v", err)
	}
	if env.Type != "trend" || env.Key != "NSE:2885" || env.Seq != 42 || env.KeySeq != 7 {
		t.Errorf("unexpected envelope header: %+v", env)
	}
	if env.Data.Projection != 2780 || env.Data.Is.State != "fall" {
		t.Errorf("payload not preserved: %+v", env.Data)
	}
	if env.TS != "2024-01-02T09:15:01Z" {
		t.Errorf("ts = %q", env.TS)
	}
}

func TestHub_BroadcastFiltersByKey(t *testing.T) {
	h := NewHub(HubConfig{ClientBuffer: 8})
	all := fakeClient(h)
	only := fakeClient(h, "NSE:1333")

	h.Broadcast(trendResult("2885", 1, 2800))
	h.Broadcast(trendResult("1333", 1, 2780))

	if got := recv(t, all); got.Key != "NSE:2885" || got.KeySeq != 1 {
		t.Errorf("all: first envelope %+v", got)
	}
	if got := recv(t, all); got.Key != "NSE:1333" || got.Seq != 2 {
		t.Errorf("all: second envelope %+v", got)
	}
	if got := recv(t, only); got.Key != "NSE:1333" {
		t.Errorf("filtered client got %s", got.Key)
	}
	if len(only.send) != 0 {
		t.Error("filtered client received an unsubscribed instrument")
	}
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	h := NewHub(HubConfig{ClientBuffer: 1})
	c := fakeClient(h)

	done := make(chan struct{})
	go func() {
		for i := int64(1); i <= 5; i++ {
			h.Broadcast(trendResult("2885", i, 2800))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full client")
	}
	if got := recv(t, c); got.KeySeq != 1 {
		t.Errorf("expected the first envelope to be kept, got key_seq %d", got.KeySeq)
	}
}

func TestHub_LatestAndMissed(t *testing.T) {
	h := NewHub(HubConfig{ReplaySize: 3})
	for i := int64(1); i <= 5; i++ {
		h.Broadcast(trendResult("2885", i, 2800))
	}

	r, ok := h.Latest("NSE:2885")
	if !ok || r.Seq != 5 {
		t.Fatalf("Latest = %+v, %v", r, ok)
	}
	if _, ok := h.Latest("NSE:1"); ok {
		t.Error("unexpected state for unknown key")
	}
	if len(h.LatestAll()) != 1 {
		t.Errorf("LatestAll = %v", h.LatestAll())
	}

	missed := h.Missed("NSE:2885", 1, 5)
	if len(missed) != 3 {
		t.Fatalf("expected the 3 retained envelopes, got %d", len(missed))
	}
	var first envelope
	json.Unmarshal(missed[0], &first)
	if first.KeySeq != 3 {
		t.Errorf("oldest retained key_seq = %d, want 3", first.KeySeq)
	}
}

func TestHub_RemoveClientIdempotent(t *testing.T) {
	h := NewHub(HubConfig{})
	counts := []int{}
	h.OnClientCount = func(n int) { counts = append(counts, n) }

	c := fakeClient(h)
	h.RemoveClient(c)
	h.RemoveClient(c)

	if h.ClientCount() != 0 || len(counts) != 2 {
		t.Errorf("clients=%d counts=%v", h.ClientCount(), counts)
	}
	if _, ok := <-c.send; ok {
		t.Error("send queue should be closed")
	}
}

func TestRoutes_State(t *testing.T) {
	h := NewHub(HubConfig{})
	h.Broadcast(trendResult("2885", 3, 2780))

	stored := trendResult("500325", 11, 2800)
	fallback := func(_ context.Context, key string) (*model.TrendResult, error) {
		if key == "NSE:500325" {
			return &stored, nil
		}
		return nil, nil
	}
	mux := http.NewServeMux()
	RegisterRoutes(mux, h, fallback)

	tests := []struct {
		query string
		code  int
		seq   int64
	}{
		{"key=NSE:2885", http.StatusOK, 3},
		{"key=NSE:500325", http.StatusOK, 11},
		{"key=NSE:404", http.StatusNotFound, 0},
		{"key=bogus", http.StatusBadRequest, 0},
		{"", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state?"+tt.query, nil))
		if rec.Code != tt.code {
			t.Errorf("%q: code=%d, want %d", tt.query, rec.Code, tt.code)
			continue
		}
		if tt.code != http.StatusOK {
			continue
		}
		var r model.TrendResult
		if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil || r.Seq != tt.seq {
			t.Errorf("%q: seq=%d err=%v", tt.query, r.Seq, err)
		}
	}
}

func TestRoutes_WebSocketFeed(t *testing.T) {
	h := NewHub(HubConfig{PingInterval: time.Minute})
	h.Broadcast(trendResult("2885", 1, 2800))

	mux := http.NewServeMux()
	RegisterRoutes(mux, h, nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?keys=NSE:2885"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// Initial state for the subscribed instrument.
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read initial state: %v", err)
	}
	if env.Key != "NSE:2885" || env.Data.Seq != 1 {
		t.Fatalf("unexpected initial envelope: %+v", env)
	}

	h.Broadcast(trendResult("1333", 1, 2780)) // filtered out
	h.Broadcast(trendResult("2885", 2, 2780))
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read live envelope: %v", err)
	}
	if env.Key != "NSE:2885" || env.Data.Seq != 2 {
		t.Errorf("unexpected live envelope: %+v", env)
	}

	if err := conn.WriteJSON(map[string]any{"type": "PING", "ping": 7}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong struct {
		Type string `json:"type"`
		Ping int64  `json:"ping"`
	}
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Type != "PONG" || pong.Ping != 7 {
		t.Errorf("unexpected pong: %+v", pong)
	}
}
