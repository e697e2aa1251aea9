// Package indicator provides moving-average smoothing over a scalar stream.
//
// Every smoother has two entry points: NextValue commits an observation and
// affects all later calculations, MomentValue previews an in-progress
// observation without touching state. Both report ok=false while the
// smoother has not produced its first value.
package indicator

import (
	"errors"
	"math"
)

var (
	// ErrInvalidPeriod is returned by constructors for period <= 0.
	ErrInvalidPeriod = errors.New("period must be positive")

	// ErrNonFinite is returned by the Engine for NaN or Inf inputs.
	ErrNonFinite = errors.New("non-finite value")
)

// Smoother is the interface shared by the moving-average primitives.
//
// NextValue and MomentValue answer ok=false both before warm-up and for
// NaN or Inf input, which is never consumed. Callers that must tell the
// two apart check finiteness first, as Engine does with ErrNonFinite.
type Smoother interface {
	// Name returns the indicator type (e.g., "SMA", "EMA").
	Name() string

	// Period returns the configured window length.
	Period() int

	// NextValue commits value and returns the new smoothed value.
	// ok is false until enough observations have been seen.
	// Non-finite values are not consumed and report ok=false.
	NextValue(value float64) (v float64, ok bool)

	// MomentValue computes what NextValue would return for value,
	// WITHOUT mutating internal state. ok is false until the first
	// committed value exists, and for non-finite values.
	MomentValue(value float64) (v float64, ok bool)

	// Value returns the last committed value and whether one exists.
	Value() (v float64, ok bool)

	// Reset clears state for reuse.
	Reset()
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
