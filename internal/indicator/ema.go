package indicator

// EMA calculates Exponential Moving Average with smoothing factor
// 2/(period+1). The first value is the SMA of the first period
// observations; initialization is tracked by a flag, so a committed value
// of exactly zero is a valid state.
type EMA struct {
	period int
	alpha  float64
	seed   *SMA
	value  float64
	ready  bool
}

// NewEMA creates a new EMA with the given period.
func NewEMA(period int) (*EMA, error) {
	seed, err := NewSMA(period)
	if err != nil {
		return nil, err
	}
	return &EMA{
		period: period,
		alpha:  2.0 / float64(period+1),
		seed:   seed,
	}, nil
}

func (e *EMA) Name() string { return "EMA" }
func (e *EMA) Period() int  { return e.period }

// Alpha returns the smoothing factor.
func (e *EMA) Alpha() float64 { return e.alpha }

// NextValue commits value. Until the SMA seed completes the call is
// delegated to it; afterwards new = (value - prev)*alpha + prev.
func (e *EMA) NextValue(value float64) (float64, bool) {
	if !isFinite(value) {
		return 0, false
	}
	if !e.ready {
		v, ok := e.seed.NextValue(value)
		if !ok {
			return 0, false
		}
		e.value = v
		e.ready = true
		return v, true
	}
	e.value = (value-e.value)*e.alpha + e.value
	return e.value, true
}

// MomentValue applies the recurrence against the committed value without
// storing the result.
func (e *EMA) MomentValue(value float64) (float64, bool) {
	if !e.ready || !isFinite(value) {
		return 0, false
	}
	return (value-e.value)*e.alpha + e.value, true
}

func (e *EMA) Value() (float64, bool) { return e.value, e.ready }

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.seed.Reset()
	e.value = 0
	e.ready = false
}
