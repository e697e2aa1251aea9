package trend

import "github.com/barisx/Indicators/internal/model"

// In returns the movement slot spanning was and is.
func (c *Classifier) In() Slot { return c.in }

// Is returns the current state slot.
func (c *Classifier) Is() Slot { return c.is }

// Was returns the state closed by the last rollback.
func (c *Classifier) Was() Slot { return c.was }

// Width is |in.size| as of the last rollback.
func (c *Classifier) Width() float64 { return c.width }

// Speed is Width divided by the duration at the last rollback, 0 when
// that duration was 0.
func (c *Classifier) Speed() float64 { return c.speed }

// At counts ticks since the last acquisition or rollback. It resets to 0
// on either, including a stale-hold rollback that leaves is in place.
func (c *Classifier) At() int { return c.at }

// Duration counts ticks is has stood on its current line. It resets only
// when is moves to a new line, on acquisition or a rollback transition.
func (c *Classifier) Duration() int { return c.duration }

// Ticks counts successful Step calls.
func (c *Classifier) Ticks() int { return c.ticks }

func (c *Classifier) Config() Config { return c.cfg }

func (c *Classifier) KDiffLen() int { return len(c.kdiff) }

// Projection returns HighLevel while is is fall, LowLevel otherwise.
func (c *Classifier) Projection() float64 { return c.projection() }

// KDiff returns a copy of the size-difference history, oldest first.
func (c *Classifier) KDiff() []float64 {
	out := make([]float64, len(c.kdiff))
	copy(out, c.kdiff)
	return out
}

// TrimKDiff keeps only the newest n entries of the history.
// n <= 0 leaves the history untouched.
func (c *Classifier) TrimKDiff(n int) int {
	if n <= 0 || len(c.kdiff) <= n {
		return 0
	}
	dropped := len(c.kdiff) - n
	kept := make([]float64, n)
	copy(kept, c.kdiff[dropped:])
	c.kdiff = kept
	return dropped
}

// Result builds the published view of the classifier for frame f.
// Slot lines are resolved through the classifier's line source; a line
// that has since left the registry is reported without its body.
func (c *Classifier) Result(f model.Frame, out Outcome) model.TrendResult {
	return model.TrendResult{
		Token:      f.Token,
		Exchange:   f.Exchange,
		Seq:        f.Seq,
		TS:         f.TS,
		Projection: c.projection(),
		In:         c.slotView(c.in),
		Is:         c.slotView(c.is),
		Was:        c.slotView(c.was),
		Width:      c.width,
		Speed:      c.speed,
		At:         c.at,
		Duration:   c.duration,
		KDiffLen:   len(c.kdiff),
		Transition: out.Transition,
	}
}

func (c *Classifier) slotView(s Slot) model.SlotView {
	v := model.SlotView{Kind: s.kind.String(), State: s.state.String()}
	if idx, ok := s.LineIndex(); ok {
		v.LineIndex = &idx
		if l, found := c.lines.Line(idx); found {
			v.Line = &l
		}
	}
	if size, ok := s.Size(); ok {
		v.Size = &size
	}
	return v
}
