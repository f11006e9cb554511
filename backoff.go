package redipubsub

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// backoffMultiplier sets the growth rate: next = round(current × 1.5).
const backoffMultiplier = 1.5

// reconnectBackoff wraps backoff.ExponentialBackOff: current starts
// absent, each failed connect attempt advances it by ×1.5 capped at
// backoffMax (unless infinite), and a successful connect clears it
// back to the initial state.
type reconnectBackoff struct {
	policy *backoff.ExponentialBackOff
}

// newReconnectBackoff builds a reconnectBackoff. A zero max means
// uncapped.
func newReconnectBackoff(initial, max time.Duration) *reconnectBackoff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initial
	policy.Multiplier = backoffMultiplier
	policy.RandomizationFactor = 0
	if max <= 0 {
		max = 365 * 24 * time.Hour // effectively infinite for a single process lifetime
	}
	policy.MaxInterval = max
	policy.MaxElapsedTime = 0 // never give up
	policy.Reset()
	return &reconnectBackoff{policy: policy}
}

// next returns the delay before the next reconnect attempt and
// advances the internal state by one step (the "×1.5, capped" rule).
func (b *reconnectBackoff) next() time.Duration {
	d := b.policy.NextBackOff()
	if d == backoff.Stop {
		// Unreachable with MaxElapsedTime == 0, but fall back to the
		// configured ceiling rather than propagate a sentinel delay.
		return b.policy.MaxInterval
	}
	return d
}

// reset clears the backoff state after a successful connect, so the
// next failure starts again from InitialInterval.
func (b *reconnectBackoff) reset() {
	b.policy.Reset()
}
