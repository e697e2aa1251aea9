package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/barisx/Indicators/internal/model"
)

func transition(from, to string) model.TrendResult {
	return model.TrendResult{
		Token:      "3045",
		Exchange:   "NSE",
		Seq:        7,
		TS:         time.Date(2026, 3, 2, 9, 20, 0, 0, time.UTC),
		Projection: 2800,
		Is:         model.SlotView{Kind: "directional", State: to},
		Was:        model.SlotView{Kind: "directional", State: from},
		Transition: true,
	}
}

type recorder struct {
	alerts []Alert
	err    error
}

func (r *recorder) Send(ctx context.Context, a Alert) error {
	r.alerts = append(r.alerts, a)
	return r.err
}

func TestAlertFor(t *testing.T) {
	if _, ok := AlertFor(model.TrendResult{Token: "3045", Exchange: "NSE"}); ok {
		t.Error("expected no alert without a transition")
	}

	a, ok := AlertFor(transition("fall", "rise"))
	if !ok {
		t.Fatal("expected alert for transition")
	}
	if a.Level != AlertInfo || a.Key != "NSE:3045" || a.From != "fall" || a.To != "rise" {
		t.Errorf("unexpected alert %+v", a)
	}
	if a.Title() != "NSE:3045 fall -> rise" {
		t.Errorf("title=%q", a.Title())
	}
	if !strings.Contains(a.Message(), "seq=7") || !strings.Contains(a.Message(), "projection=2800") {
		t.Errorf("message=%q", a.Message())
	}

	same, _ := AlertFor(transition("rise", "rise"))
	if same.Level != AlertWarning {
		t.Errorf("same-direction transition level=%s, want WARNING", same.Level)
	}
}

func TestDispatcher_SendsTransitionsOnly(t *testing.T) {
	ok := &recorder{}
	failing := &recorder{err: errors.New("down")}
	d := NewDispatcher(time.Second, ok, failing)

	var attempts int
	d.OnSent = func(Alert, error) { attempts++ }

	if n := d.Dispatch(context.Background(), model.TrendResult{}); n != 0 {
		t.Errorf("non-transition delivered to %d notifiers", n)
	}
	if n := d.Dispatch(context.Background(), transition("rise", "fall")); n != 1 {
		t.Errorf("delivered=%d, want 1 (one notifier failing)", n)
	}
	if len(ok.alerts) != 1 || len(failing.alerts) != 1 {
		t.Errorf("each notifier should see the alert once: ok=%d failing=%d", len(ok.alerts), len(failing.alerts))
	}
	if attempts != 2 {
		t.Errorf("OnSent calls=%d, want 2", attempts)
	}
}

func TestDispatcher_RunStopsWhenInputCloses(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(time.Second, rec)

	in := make(chan model.TrendResult, 2)
	in <- transition("fall", "rise")
	in <- model.TrendResult{}
	close(in)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), in)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after input closed")
	}
	if len(rec.alerts) != 1 {
		t.Errorf("alerts=%d, want 1", len(rec.alerts))
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method=%s, want POST", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a, _ := AlertFor(transition("fall", "rise"))
	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), a); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["key"] != "NSE:3045" || got["to"] != "rise" || got["title"] != "NSE:3045 fall -> rise" {
		t.Errorf("unexpected payload %v", got)
	}
}

func TestWebhookNotifier_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a, _ := AlertFor(transition("fall", "rise"))
	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), a); err == nil {
		t.Fatal("expected error for 502")
	}
}

func TestTelegramNotifier(t *testing.T) {
	var path string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.apiBase = srv.URL

	a, _ := AlertFor(transition("rise", "fall"))
	if err := n.Send(context.Background(), a); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path=%q", path)
	}
	if body["chat_id"] != "42" || body["parse_mode"] != "MarkdownV2" {
		t.Errorf("unexpected body %v", body)
	}
	if text, _ := body["text"].(string); !strings.Contains(text, `NSE:3045 rise \-\> fall`) {
		t.Errorf("text not escaped as expected: %q", text)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	if got := escapeMarkdown("a.b-c"); got != `a\.b\-c` {
		t.Errorf("escapeMarkdown=%q", got)
	}
}
