package engine

// State is the lifecycle position of a trade. Transitions are validated
// against the table below; an illegal transition is a programming error and
// is logged, never applied.
type State int

const (
	StatePlanning State = iota
	StateSubmitting
	StateOpen
	StateAdjusting
	StatePartiallyClosed
	StateClosing
	StateClosed
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePlanning:
		return "planning"
	case StateSubmitting:
		return "submitting"
	case StateOpen:
		return "open"
	case StateAdjusting:
		return "adjusting"
	case StatePartiallyClosed:
		return "partially_closed"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal states are immutable; the position is retained for reporting only.
func (s State) Terminal() bool {
	switch s {
	case StateClosed, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Live reports whether the position has exposure on the exchange.
func (s State) Live() bool {
	switch s {
	case StateOpen, StateAdjusting, StatePartiallyClosed:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StatePlanning:        {StateSubmitting, StateCancelled, StateFailed},
	StateSubmitting:      {StateOpen, StateFailed, StateCancelled},
	StateOpen:            {StateAdjusting, StatePartiallyClosed, StateClosing},
	StateAdjusting:       {StateOpen, StatePartiallyClosed, StateClosing},
	StatePartiallyClosed: {StateAdjusting, StateClosing},
	StateClosing:         {StateClosed, StateFailed},
}

func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
