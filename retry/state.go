package retry

import "time"

// State is the attempt state of one logical call. It is a value: Advance
// returns the next state instead of mutating the receiver.
type State struct {
	// First is true until the first retry decision has been taken
	First bool
	// Current is the delay computed on the most recent retry
	Current time.Duration
	// Remaining is the retry budget left
	Remaining int
	// Attempt is the zero-based index of the attempt in flight
	Attempt int
}

// NewState returns the initial state for a call with the given retry budget.
// A negative budget is treated as zero.
func NewState(retries int) State {
	if retries < 0 {
		retries = 0
	}
	return State{First: true, Remaining: retries}
}

// Advance records a retry that waits delay and returns the next state.
func (s State) Advance(delay time.Duration) State {
	remaining := s.Remaining - 1
	if remaining < 0 {
		remaining = 0
	}
	return State{
		First:     false,
		Current:   delay,
		Remaining: remaining,
		Attempt:   s.Attempt + 1,
	}
}
