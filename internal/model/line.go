package model

import (
	"fmt"
	"math"
)

// LineType marks which side of price action a line segment tracks.
type LineType string

const (
	LineHigh LineType = "h" // segment through local highs
	LineLow  LineType = "l" // segment through local lows
)

// Valid reports whether t is one of the known line types.
func (t LineType) Valid() bool {
	return t == LineHigh || t == LineLow
}

// LinePoint is a single recorded point of a line: X is the ordinal position
// (observation index), Y the price value at that position.
type LinePoint struct {
	X int64   `json:"x"`
	Y float64 `json:"y"`
}

// Line is a directional segment produced by the upstream line detector.
// Lines are owned by a registry; consumers refer to them by Index only.
type Line struct {
	Type       LineType  `json:"type"`
	Index      int       `json:"index"`
	Length     int       `json:"length"`      // observations spanned
	StartPoint LinePoint `json:"start_point"` // segment origin
	ThisPoint  LinePoint `json:"this_point"`  // most recent point
	Rollback   bool      `json:"rollback"`    // segment has broken / reversed
}

// Size is the price movement attributed to the line: start.Y - this.Y.
// Positive for a falling segment, negative for a rising one.
func (l Line) Size() float64 {
	return l.StartPoint.Y - l.ThisPoint.Y
}

// Validate checks the fields a classifier reads from the line.
func (l Line) Validate() error {
	if !l.Type.Valid() {
		return fmt.Errorf("unknown line type %q", l.Type)
	}
	if l.Length < 0 {
		return fmt.Errorf("negative length %d", l.Length)
	}
	if !finite(l.StartPoint.Y) || !finite(l.ThisPoint.Y) {
		return fmt.Errorf("non-finite point (start=%v this=%v)", l.StartPoint.Y, l.ThisPoint.Y)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
