package trend

// State is the classifier's belief about price direction.
type State int

const (
	StateUnset State = iota
	StateUnknown
	StateFlat
	StateRise
	StateFall
	StateSqueeze
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateFlat:
		return "flat"
	case StateRise:
		return "rise"
	case StateFall:
		return "fall"
	case StateSqueeze:
		return "squeeze"
	default:
		return ""
	}
}

// SlotKind tags which variant a Slot holds.
type SlotKind int

const (
	SlotUnset SlotKind = iota
	SlotAcquiring
	SlotDirectional
)

func (k SlotKind) String() string {
	switch k {
	case SlotAcquiring:
		return "acquiring"
	case SlotDirectional:
		return "directional"
	default:
		return "unset"
	}
}

// Slot is one of the classifier's time-ordered states (in, is, was).
//
// Only a directional slot carries a state and a backing line; size is
// optional on top of that. The line itself is never stored: callers resolve
// LineIndex through the registry on every access.
type Slot struct {
	kind      SlotKind
	state     State
	lineIndex int
	size      float64
	hasSize   bool
}

func acquiringSlot() Slot {
	return Slot{kind: SlotAcquiring}
}

func directionalSlot(state State, lineIndex int) Slot {
	return Slot{kind: SlotDirectional, state: state, lineIndex: lineIndex}
}

func (s Slot) withSize(size float64) Slot {
	s.size = size
	s.hasSize = true
	return s
}

// Kind returns the slot variant.
func (s Slot) Kind() SlotKind { return s.kind }

// Directional reports whether the slot holds a state backed by a line.
func (s Slot) Directional() bool { return s.kind == SlotDirectional }

// State returns the slot state; StateUnset unless directional.
func (s Slot) State() State { return s.state }

// LineIndex returns the backing line identifier, if any.
func (s Slot) LineIndex() (int, bool) {
	return s.lineIndex, s.kind == SlotDirectional
}

// Size returns the movement attributed to the slot, if computed.
func (s Slot) Size() (float64, bool) {
	return s.size, s.hasSize
}
