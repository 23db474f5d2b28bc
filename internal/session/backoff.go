package session

import (
	"math"
	"math/rand"
	"time"
)

// Backoff is reconnect delay policy as plain data: the session threads an
// attempt count through transitions and asks for the delay, keeping the
// policy independently testable.
type Backoff struct {
	// Min is the delay after the first failed attempt.
	Min time.Duration

	// Max caps the delay regardless of attempt count.
	Max time.Duration

	// Factor is the per-attempt growth multiplier.
	Factor float64

	// Jitter in [0, 1) randomly shortens each delay by up to that
	// fraction, de-synchronizing reconnect storms across stations.
	// Jitter only subtracts, so the cap is never exceeded.
	Jitter float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		Min:    time.Second,
		Max:    5 * time.Minute,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Delay returns the wait before reconnect attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	factor := b.Factor
	if factor < 1 {
		factor = 1
	}

	base := float64(b.Min) * math.Pow(factor, float64(attempt-1))
	if base > float64(b.Max) || base < 0 {
		base = float64(b.Max)
	}

	if b.Jitter > 0 {
		base -= rand.Float64() * b.Jitter * base
	}

	if base < float64(b.Min) {
		base = float64(b.Min)
	}

	return time.Duration(base)
}
