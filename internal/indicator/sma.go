package indicator

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer for zero-allocation hot path.
type SMA struct {
	period  int
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	sum     float64
	current float64
}

// NewSMA creates a new SMA with the given period.
func NewSMA(period int) (*SMA, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}, nil
}

func (s *SMA) Name() string { return "SMA" }
func (s *SMA) Period() int  { return s.period }

// NextValue pushes value into the window. The first result is produced on
// the period-th call and equals the mean of those period values.
func (s *SMA) NextValue(value float64) (float64, bool) {
	if !isFinite(value) {
		return 0, false
	}
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}

	s.buf[s.idx] = value
	s.sum += value
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count < s.period {
		return 0, false
	}
	s.current = s.sum / float64(s.period)
	return s.current, true
}

// MomentValue previews the mean with value replacing the oldest sample.
func (s *SMA) MomentValue(value float64) (float64, bool) {
	if s.count < s.period || !isFinite(value) {
		return 0, false
	}
	return (s.sum - s.buf[s.idx] + value) / float64(s.period), true
}

func (s *SMA) Value() (float64, bool) { return s.current, s.count >= s.period }

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() {
	s.idx = 0
	s.count = 0
	s.sum = 0
	s.current = 0
	clear(s.buf)
}
