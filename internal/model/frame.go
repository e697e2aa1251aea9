package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNonFinitePrice is returned when a frame price does not fit a finite float64.
var ErrNonFinitePrice = errors.New("non-finite price")

// Frame is one observation tick for a single instrument as published by the
// upstream line detector. It carries everything needed to advance the
// classifier by exactly one tick: the line updates that happened during the
// tick, the lines that were dropped, and the active identifiers per side.
//
// Price is a decimal on the wire so producers never emit NaN or Inf.
type Frame struct {
	Token    string          `json:"token"`
	Exchange string          `json:"exchange"`
	Seq      int64           `json:"seq"`    // producer tick counter
	TS       time.Time       `json:"ts"`     // observation time (UTC)
	Price    decimal.Decimal `json:"price"`  // close / last price
	Closed   bool            `json:"closed"` // false for an in-progress observation
	Lines    []Line          `json:"lines,omitempty"`
	Remove   []int           `json:"remove,omitempty"`
	HighIDs  []int           `json:"high_ids"`
	LowIDs   []int           `json:"low_ids"`
}

// Key returns "exchange:token".
func (f *Frame) Key() string {
	return f.Exchange + ":" + f.Token
}

// StreamKey returns the Redis stream key: "trend:frames:{exchange}:{token}".
func (f *Frame) StreamKey() string {
	return FrameStreamPrefix + f.Exchange + ":" + f.Token
}

// FrameStreamPrefix prefixes every frame stream key.
const FrameStreamPrefix = "trend:frames:"

// PriceFloat converts Price to float64, rejecting values that overflow.
func (f *Frame) PriceFloat() (float64, error) {
	v, _ := f.Price.Float64()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s", ErrNonFinitePrice, f.Price.String())
	}
	return v, nil
}

// JSON returns the JSON-encoded frame (ignoring errors for hot-path usage).
func (f *Frame) JSON() []byte {
	b, _ := json.Marshal(f)
	return b
}

// ParseFrame decodes a frame and checks the fields required to route it.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("unmarshal frame: %w", err)
	}
	if f.Token == "" || f.Exchange == "" {
		return Frame{}, fmt.Errorf("frame seq=%d: missing token or exchange", f.Seq)
	}
	return f, nil
}
