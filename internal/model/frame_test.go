package model

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseFrame(t *testing.T) {
	data := []byte(`{
		"token": "2885", "exchange": "NSE", "seq": 42,
		"ts": "2024-01-02T03:04:05Z", "price": "2791.35", "closed": true,
		"lines": [{"type": "h", "index": 3, "length": 7,
			"start_point": {"x": 10, "y": 2810.5}, "this_point": {"x": 17, "y": 2795}, "rollback": false}],
		"remove": [1],
		"high_ids": [3], "low_ids": []
	}`)

	f, err := ParseFrame(data)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if f.Key() != "NSE:2885" || f.StreamKey() != "trend:frames:NSE:2885" {
		t.Errorf("unexpected keys: %s %s", f.Key(), f.StreamKey())
	}
	if !f.Price.Equal(decimal.RequireFromString("2791.35")) {
		t.Errorf("unexpected price %s", f.Price)
	}
	if len(f.Lines) != 1 || f.Lines[0].Type != LineHigh || f.Lines[0].Size() != 15.5 {
		t.Errorf("unexpected lines: %+v", f.Lines)
	}
	if len(f.Remove) != 1 || f.Remove[0] != 1 || len(f.HighIDs) != 1 || len(f.LowIDs) != 0 {
		t.Errorf("unexpected id lists: remove=%v high=%v low=%v", f.Remove, f.HighIDs, f.LowIDs)
	}
}

func TestParseFrame_Rejects(t *testing.T) {
	for _, data := range []string{
		`not json`,
		`{"exchange": "NSE", "seq": 1}`,
		`{"token": "2885", "seq": 1}`,
	} {
		if _, err := ParseFrame([]byte(data)); err == nil {
			t.Errorf("expected error for %s", data)
		}
	}
}

func TestFrame_RoundTripKeepsPricePrecision(t *testing.T) {
	in := Frame{Token: "1", Exchange: "BSE", Price: decimal.RequireFromString("0.1000000000000000055")}
	out, err := ParseFrame(in.JSON())
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if !out.Price.Equal(in.Price) {
		t.Errorf("price changed: %s → %s", in.Price, out.Price)
	}
}

func TestFrame_PriceFloat(t *testing.T) {
	f := Frame{Price: decimal.RequireFromString("2800.25")}
	v, err := f.PriceFloat()
	if err != nil || v != 2800.25 {
		t.Fatalf("PriceFloat = %v, %v", v, err)
	}

	f.Price = decimal.New(1, 400)
	if _, err := f.PriceFloat(); !errors.Is(err, ErrNonFinitePrice) {
		t.Fatalf("expected ErrNonFinitePrice, got %v", err)
	}
}

func TestLine_Validate(t *testing.T) {
	good := Line{Type: LineLow, Index: 1, Length: 0, StartPoint: LinePoint{Y: 1}, ThisPoint: LinePoint{Y: 2}}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid line rejected: %v", err)
	}
	if good.Size() != -1 {
		t.Errorf("expected size -1 for a rising segment, got %v", good.Size())
	}

	bad := []Line{
		{Type: "", Index: 1},
		{Type: LineHigh, Index: 1, Length: -1},
		{Type: LineHigh, Index: 1, StartPoint: LinePoint{Y: math.NaN()}},
		{Type: LineLow, Index: 1, ThisPoint: LinePoint{Y: math.Inf(1)}},
	}
	for i, l := range bad {
		if err := l.Validate(); err == nil {
			t.Errorf("case %d: expected error for %+v", i, l)
		}
	}
}

func TestIndicatorName(t *testing.T) {
	if got := IndicatorName("EMA", 21); got != "EMA_21" {
		t.Errorf("IndicatorName = %q", got)
	}
}

func TestTrendResult_Keys(t *testing.T) {
	size := 10.0
	idx := 4
	r := TrendResult{Token: "2885", Exchange: "NSE", Seq: 7, Projection: 2780,
		Is: SlotView{Kind: "directional", State: "fall", LineIndex: &idx, Size: &size}}

	if r.StreamKey() != "trend:NSE:2885" || r.LatestKey() != "trend:latest:NSE:2885" || r.PubSubChannel() != "pub:trend:NSE:2885" {
		t.Errorf("unexpected keys: %s %s %s", r.StreamKey(), r.LatestKey(), r.PubSubChannel())
	}

	back, err := ParseTrendResult(r.JSON())
	if err != nil {
		t.Fatalf("ParseTrendResult: %v", err)
	}
	if back.Is.LineIndex == nil || *back.Is.LineIndex != 4 || back.Is.Size == nil || *back.Is.Size != 10 {
		t.Errorf("slot view lost: %+v", back.Is)
	}
	if back.Was.LineIndex != nil || back.Was.Size != nil {
		t.Errorf("unset slot must omit optional members: %+v", back.Was)
	}
}
