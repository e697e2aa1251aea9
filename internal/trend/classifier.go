// Package trend classifies the current market trend from directional line
// segments detected upstream.
//
// A Classifier is driven once per observation tick with the identifiers of
// the active high-side and low-side lines. It keeps three slots: was (the
// previous confirmed state), is (the current confirmed state) and in (the
// longer-horizon state), and emits a projection level per tick.
package trend

import (
	"errors"
	"fmt"
	"math"

	"github.com/barisx/Indicators/internal/model"
)

var (
	// ErrUnknownLine is returned when an identifier does not resolve to a
	// live line. It indicates a bug in the collaborator, not market data.
	ErrUnknownLine = errors.New("unknown line")

	// ErrInvalidLine is returned when a resolved line has unusable fields.
	ErrInvalidLine = errors.New("invalid line")
)

// LineSource resolves line identifiers. The classifier only reads lines.
type LineSource interface {
	Line(id int) (model.Line, bool)
}

// Config holds the classifier thresholds and projection levels.
type Config struct {
	// MinTrendLength is the length a dominant line must exceed to acquire
	// the first trend.
	MinTrendLength int
	// MinReplacementLength is the length an opposite-side line must exceed
	// to take over after a rollback.
	MinReplacementLength int
	// HighLevel is projected while the trend is falling, LowLevel otherwise.
	HighLevel float64
	LowLevel  float64
}

// DefaultConfig returns the thresholds and levels the classifier was
// calibrated with.
func DefaultConfig() Config {
	return Config{
		MinTrendLength:       5,
		MinReplacementLength: 1,
		HighLevel:            2780,
		LowLevel:             2800,
	}
}

// Classifier tracks trend state for one instrument.
// Not safe for concurrent use: callers serialize Update calls.
type Classifier struct {
	lines LineSource
	cfg   Config

	in  Slot // longer state
	is  Slot // current state
	was Slot // previous state

	width    float64 // longer state trend width
	speed    float64 // longer state trend speed
	at       int     // ticks since the previous state was recorded
	duration int     // ticks the current state has been held
	kdiff    []float64

	ticks int
}

// New creates a classifier bound to lines.
func New(lines LineSource, cfg Config) *Classifier {
	return &Classifier{lines: lines, cfg: cfg}
}

// Outcome describes what an Update did, for callers that log or count.
type Outcome struct {
	Acquired   bool // first trend adopted on this tick
	Rolled     bool // backing line reported rollback; was was replaced
	Transition bool // is moved to a new line
}

// Update advances the classifier by one tick and returns the projection.
func (c *Classifier) Update(highIDs, lowIDs []int) ([]float64, error) {
	proj, _, err := c.Step(highIDs, lowIDs)
	return proj, err
}

// Step is Update that also reports the outcome of the tick.
//
// All identifiers are resolved before any state changes, so a failed Step
// leaves the classifier exactly as it was.
func (c *Classifier) Step(highIDs, lowIDs []int) ([]float64, Outcome, error) {
	var out Outcome

	high, err := c.dominant(highIDs)
	if err != nil {
		return nil, out, fmt.Errorf("high side: %w", err)
	}
	low, err := c.dominant(lowIDs)
	if err != nil {
		return nil, out, fmt.Errorf("low side: %w", err)
	}

	var backing *model.Line
	if c.is.Directional() {
		l, err := c.resolve(c.is.lineIndex)
		if err != nil {
			return nil, out, fmt.Errorf("current state: %w", err)
		}
		backing = &l
	}

	c.ticks++

	if !c.is.Directional() && !c.was.Directional() {
		backing = c.acquire(high, low)
		out.Acquired = backing != nil
	}

	if backing != nil && backing.Rollback {
		out.Rolled = true
		out.Transition = c.rollback(*backing, high, low)
	}

	c.advanceCounters(out)

	return []float64{c.projection()}, out, nil
}

// dominant picks the longest line among ids. The first line wins an exact
// tie. A nil result means the side has no candidate this tick.
func (c *Classifier) dominant(ids []int) (*model.Line, error) {
	var best *model.Line
	for _, id := range ids {
		l, err := c.resolve(id)
		if err != nil {
			return nil, err
		}
		if best == nil || l.Length > best.Length {
			best = &l
		}
	}
	return best, nil
}

func (c *Classifier) resolve(id int) (model.Line, error) {
	l, ok := c.lines.Line(id)
	if !ok {
		return model.Line{}, fmt.Errorf("%w: id=%d", ErrUnknownLine, id)
	}
	if l.Index != id {
		return model.Line{}, fmt.Errorf("%w: id=%d resolved to index %d", ErrInvalidLine, id, l.Index)
	}
	if err := l.Validate(); err != nil {
		return model.Line{}, fmt.Errorf("%w: id=%d: %v", ErrInvalidLine, id, err)
	}
	return l, nil
}

// acquire adopts the first trend once one side's dominant line is long
// enough while the other side's is not. Returns the adopted line.
func (c *Classifier) acquire(high, low *model.Line) *model.Line {
	var line *model.Line
	switch {
	case c.long(low) && !c.long(high):
		line = low
	case c.long(high) && !c.long(low):
		line = high
	}

	if line == nil {
		c.is = acquiringSlot()
		c.in = acquiringSlot()
		return nil
	}

	c.is = directionalSlot(stateFor(line.Type), line.Index)
	c.in = directionalSlot(StateUnknown, line.Index)
	return line
}

func (c *Classifier) long(l *model.Line) bool {
	return l != nil && l.Length > c.cfg.MinTrendLength
}

// rollback closes the current state on its broken line and, when the
// opposite side has a qualifying line, moves is onto it. Without one, is
// stays on the broken line and is re-evaluated next tick.
func (c *Classifier) rollback(broken model.Line, high, low *model.Line) bool {
	isSize := broken.Size()
	wasSize, _ := c.was.Size() // absent counts as 0
	inSize := wasSize + isSize

	c.kdiff = append(c.kdiff, isSize-wasSize)
	c.is = c.is.withSize(isSize)
	c.was = c.is
	c.at = 0

	var next *model.Line
	switch c.is.state {
	case StateFall:
		next = low
	case StateRise:
		next = high
	}

	moved := false
	if next != nil && next.Length > c.cfg.MinReplacementLength {
		c.is = directionalSlot(stateFor(next.Type), next.Index)
		moved = true
	}

	c.in = directionalSlot(c.is.state, c.is.lineIndex).withSize(inSize)
	c.width = math.Abs(inSize)
	if c.duration > 0 {
		c.speed = c.width / float64(c.duration)
	} else {
		c.speed = 0
	}
	return moved
}

func (c *Classifier) advanceCounters(out Outcome) {
	if !c.is.Directional() {
		return
	}
	if out.Acquired || out.Transition {
		c.duration = 0
	} else {
		c.duration++
	}
	if !out.Acquired && !out.Rolled {
		c.at++
	}
}

func (c *Classifier) projection() float64 {
	if c.is.state == StateFall {
		return c.cfg.HighLevel
	}
	return c.cfg.LowLevel
}

// stateFor maps a line type to the trend it implies: a dominant high-side
// line means prices are falling, a dominant low-side line means rising.
func stateFor(t model.LineType) State {
	if t == model.LineHigh {
		return StateFall
	}
	return StateRise
}
