package retry

import (
	crand "crypto/rand"
	"math/big"
	"time"
)

const (
	// DefaultDelay is used when neither a fixed delay nor a minimum backoff is set
	DefaultDelay = 1000 * time.Millisecond

	// MaxJitter is the upper bound of the random shift added to exponential steps
	MaxJitter = 50 * time.Millisecond
)

// JitterFunc returns the random shift added to an exponential backoff step.
type JitterFunc func() time.Duration

// Policy decides whether an attempt is retried and how long to wait.
// The zero value retries every failure after DefaultDelay.
type Policy struct {
	// FixedDelay, when positive, is used for every retry
	FixedDelay time.Duration
	// MinBackoff, when positive and FixedDelay is unset, seeds exponential backoff
	MinBackoff time.Duration
	// MaxBackoff, when positive, caps exponential backoff
	MaxBackoff time.Duration
	// NonRetryable lists statuses that end the call immediately
	NonRetryable Patterns
	// Jitter overrides the random shift source; nil uses DefaultJitter
	Jitter JitterFunc
}

// ShouldRetry reports whether the call should make another attempt after o.
func (p *Policy) ShouldRetry(s State, o Outcome) bool {
	if o.Kind == Success {
		return false
	}
	if s.Remaining <= 0 {
		return false
	}
	if o.Kind == HTTPError && p.NonRetryable.Match(o.StatusCode) {
		return false
	}
	return true
}

// NextDelay returns how long to wait before the next attempt. It is only
// meaningful after ShouldRetry returned true.
func (p *Policy) NextDelay(s State) time.Duration {
	if p.FixedDelay > 0 {
		return p.FixedDelay
	}
	if p.MinBackoff > 0 {
		if s.First {
			return p.MinBackoff
		}
		return p.grow(s.Current)
	}
	return DefaultDelay
}

func (p *Policy) grow(current time.Duration) time.Duration {
	if current <= 0 {
		current = p.MinBackoff
	}
	jitter := p.Jitter
	if jitter == nil {
		jitter = DefaultJitter
	}
	return computeBackoff(current, jitter, p.MaxBackoff)
}

// ComputeBackoff doubles current, adds a random shift when jitter is true and
// clamps to ceiling when ceiling is positive. If the doubled value already reaches
// ceiling, ceiling is returned without a shift.
func ComputeBackoff(current time.Duration, jitter bool, ceiling time.Duration) time.Duration {
	var fn JitterFunc
	if jitter {
		fn = DefaultJitter
	}
	return computeBackoff(current, fn, ceiling)
}

func computeBackoff(current time.Duration, jitter JitterFunc, ceiling time.Duration) time.Duration {
	doubled := current * 2
	if doubled < current {
		// overflow
		if ceiling > 0 {
			return ceiling
		}
		return current
	}
	if ceiling > 0 && doubled >= ceiling {
		return ceiling
	}
	next := doubled
	if jitter != nil {
		next += jitter()
	}
	if ceiling > 0 && next > ceiling {
		return ceiling
	}
	return next
}

// DefaultJitter returns a uniformly random whole number of milliseconds in [1, 50].
func DefaultJitter() time.Duration {
	n, err := crand.Int(crand.Reader, big.NewInt(int64(MaxJitter/time.Millisecond)))
	if err != nil {
		// On RNG failure, fall back to the smallest shift
		return time.Millisecond
	}
	return time.Duration(n.Int64()+1) * time.Millisecond
}
