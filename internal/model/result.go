package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// SlotView is the JSON-ready view of one classifier slot.
// Optional members are nil when the slot does not carry them.
type SlotView struct {
	Kind      string   `json:"kind"`  // "unset", "acquiring", "directional"
	State     string   `json:"state"` // "", "unknown", "flat", "rise", "fall", "squeeze"
	LineIndex *int     `json:"line_index,omitempty"`
	Line      *Line    `json:"line,omitempty"`
	Size      *float64 `json:"size,omitempty"`
}

// TrendResult is the classifier output for one instrument tick.
type TrendResult struct {
	Token      string    `json:"token"`
	Exchange   string    `json:"exchange"`
	Seq        int64     `json:"seq"`
	TS         time.Time `json:"ts"`
	Projection float64   `json:"projection"`
	In         SlotView  `json:"in"`
	Is         SlotView  `json:"is"`
	Was        SlotView  `json:"was"`
	Width      float64   `json:"width"`
	Speed      float64   `json:"speed"`
	At         int       `json:"at"`
	Duration   int       `json:"duration"`
	KDiffLen   int       `json:"kdiff_len"`
	Transition bool      `json:"transition"` // is moved to a new line on this tick
}

// Key returns "exchange:token".
func (r *TrendResult) Key() string {
	return r.Exchange + ":" + r.Token
}

// StreamKey returns the Redis stream key: "trend:{exchange}:{token}".
func (r *TrendResult) StreamKey() string {
	return "trend:" + r.Exchange + ":" + r.Token
}

// LatestKey returns the Redis key holding the most recent result.
func (r *TrendResult) LatestKey() string {
	return "trend:latest:" + r.Exchange + ":" + r.Token
}

// PubSubChannel returns the PubSub channel: "pub:trend:{exchange}:{token}".
func (r *TrendResult) PubSubChannel() string {
	return "pub:trend:" + r.Exchange + ":" + r.Token
}

// JSON returns the JSON-encoded trend result.
func (r *TrendResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// ParseTrendResult decodes a published trend result.
func ParseTrendResult(data []byte) (TrendResult, error) {
	var r TrendResult
	if err := json.Unmarshal(data, &r); err != nil {
		return TrendResult{}, fmt.Errorf("unmarshal trend result: %w", err)
	}
	return r, nil
}

// IndicatorResult holds a smoothed value for one instrument tick.
type IndicatorResult struct {
	Name     string    `json:"name"` // e.g. "SMA_20", "EMA_9"
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	Seq      int64     `json:"seq"`
	Value    float64   `json:"value"`
	TS       time.Time `json:"ts"`
	Ready    bool      `json:"ready"` // true once the smoother is seeded
	Live     bool      `json:"live"`  // true for previews of an in-progress observation
}

// StreamKey returns the Redis stream key: "ind:{name}:{exchange}:{token}".
func (r *IndicatorResult) StreamKey() string {
	return "ind:" + r.Name + ":" + r.Exchange + ":" + r.Token
}

// LatestKey returns the Redis key holding the most recent committed value.
func (r *IndicatorResult) LatestKey() string {
	return "ind:latest:" + r.Name + ":" + r.Exchange + ":" + r.Token
}

// PubSubChannel returns the PubSub channel: "pub:ind:{name}:{exchange}:{token}".
func (r *IndicatorResult) PubSubChannel() string {
	return "pub:ind:" + r.Name + ":" + r.Exchange + ":" + r.Token
}

// JSON returns the JSON-encoded indicator result.
func (r *IndicatorResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// IndicatorName builds "TYPE_PERIOD".
func IndicatorName(typ string, period int) string {
	return typ + "_" + strconv.Itoa(period)
}
