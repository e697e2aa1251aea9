package bus

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/barisx/Indicators/internal/model"
)

func result(seq int64) model.TrendResult {
	return model.TrendResult{Token: "2885", Exchange: "NSE", Seq: seq, Projection: 2800}
}

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New(10, nil)
	outs := map[string]<-chan model.TrendResult{
		"redis": fo.Subscribe("redis"),
		"ws":    fo.Subscribe("ws"),
	}

	input := make(chan model.TrendResult, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- result(1)

	for name, out := range outs {
		select {
		case r := <-out:
			if r.Key() != "NSE:2885" || r.Seq != 1 {
				t.Errorf("%s: unexpected result %s seq=%d", name, r.Key(), r.Seq)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: timed out waiting for result", name)
		}
	}
}

func TestFanOut_DropsForSlowConsumer(t *testing.T) {
	fo := New(1, nil)
	slow := fo.Subscribe("slow")
	fast := fo.Subscribe("fast")

	var mu sync.Mutex
	dropped := map[string][]int64{}
	fo.OnDrop = func(name string, res model.TrendResult) {
		mu.Lock()
		dropped[name] = append(dropped[name], res.Seq)
		mu.Unlock()
	}

	input := make(chan model.TrendResult)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	for seq := int64(1); seq <= 3; seq++ {
		input <- result(seq)
		select {
		case <-fast:
		case <-time.After(time.Second):
			t.Fatalf("fast consumer starved at seq %d", seq)
		}
	}

	mu.Lock()
	got := dropped["slow"]
	fastDrops := len(dropped["fast"])
	mu.Unlock()
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("slow drops = %v, want [2 3]", got)
	}
	if fastDrops != 0 {
		t.Errorf("fast consumer dropped %d results", fastDrops)
	}
	if r := <-slow; r.Seq != 1 {
		t.Errorf("slow consumer should hold the first result, got seq %d", r.Seq)
	}
}

func TestFanOut_LogsDropWithoutHook(t *testing.T) {
	var buf bytes.Buffer
	fo := New(1, slog.New(slog.NewTextHandler(&buf, nil)))
	fo.Subscribe("notify")

	fo.publish(result(1))
	fo.publish(result(2))

	logged := buf.String()
	if !strings.Contains(logged, "subscriber=notify") || !strings.Contains(logged, "seq=2") {
		t.Errorf("drop not logged with subscriber and seq: %q", logged)
	}
}

func TestFanOut_ClosesOutputsOnInputClose(t *testing.T) {
	fo := New(1, nil)
	out := fo.Subscribe("ws")

	input := make(chan model.TrendResult)
	done := make(chan struct{})
	go func() {
		fo.Run(context.Background(), input)
		close(done)
	}()
	close(input)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after input closed")
	}
	if _, ok := <-out; ok {
		t.Error("expected output channel to be closed")
	}
}

func TestFanOut_ChannelStats(t *testing.T) {
	fo := New(4, nil)
	fo.Subscribe("redis")
	fo.Subscribe("ws")
	fo.publish(result(1))

	stats := fo.ChannelStats()
	if len(stats) != 2 {
		t.Fatalf("expected 2 stats, got %d", len(stats))
	}
	for i, want := range []string{"redis", "ws"} {
		s := stats[i]
		if s.Name != want || s.Len != 1 || s.Cap != 4 {
			t.Errorf("stat %d: %+v, want %s len=1 cap=4", i, s, want)
		}
	}
}
