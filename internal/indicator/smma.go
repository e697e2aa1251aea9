package indicator

// SMMA calculates Smoothed Moving Average (Wilder-style smoothing).
// First value is SMA(period), then SMMA = (prev*(period-1) + value) / period.
type SMMA struct {
	period int
	seed   *SMA
	value  float64
	ready  bool
}

// NewSMMA creates a new SMMA with the given period.
func NewSMMA(period int) (*SMMA, error) {
	seed, err := NewSMA(period)
	if err != nil {
		return nil, err
	}
	return &SMMA{period: period, seed: seed}, nil
}

func (s *SMMA) Name() string { return "SMMA" }
func (s *SMMA) Period() int  { return s.period }

func (s *SMMA) NextValue(value float64) (float64, bool) {
	if !isFinite(value) {
		return 0, false
	}
	if !s.ready {
		v, ok := s.seed.NextValue(value)
		if !ok {
			return 0, false
		}
		s.value = v
		s.ready = true
		return v, true
	}
	s.value = s.next(value)
	return s.value, true
}

func (s *SMMA) MomentValue(value float64) (float64, bool) {
	if !s.ready || !isFinite(value) {
		return 0, false
	}
	return s.next(value), true
}

func (s *SMMA) next(value float64) float64 {
	return (s.value*float64(s.period-1) + value) / float64(s.period)
}

func (s *SMMA) Value() (float64, bool) { return s.value, s.ready }

// Reset clears the SMMA state for reuse.
func (s *SMMA) Reset() {
	s.seed.Reset()
	s.value = 0
	s.ready = false
}
