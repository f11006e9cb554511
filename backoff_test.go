package redipubsub

import (
	"testing"
	"time"
)

func TestReconnectBackoffGrowsByMultiplier(t *testing.T) {
	b := newReconnectBackoff(10*time.Millisecond, time.Second)

	first := b.next()
	if first != 10*time.Millisecond {
		t.Errorf("first delay = %v, want 10ms (no randomization)", first)
	}

	second := b.next()
	want := time.Duration(float64(10*time.Millisecond) * backoffMultiplier)
	if second != want {
		t.Errorf("second delay = %v, want %v", second, want)
	}
}

func TestReconnectBackoffCapsAtMax(t *testing.T) {
	b := newReconnectBackoff(10*time.Millisecond, 15*time.Millisecond)
	b.next() // 10ms
	capped := b.next()
	if capped > 15*time.Millisecond {
		t.Errorf("delay = %v, want capped at 15ms", capped)
	}
}

func TestReconnectBackoffResetReturnsToInitial(t *testing.T) {
	b := newReconnectBackoff(10*time.Millisecond, time.Second)
	b.next()
	b.next()
	b.reset()

	got := b.next()
	if got != 10*time.Millisecond {
		t.Errorf("delay after reset = %v, want 10ms", got)
	}
}

func TestReconnectBackoffZeroMaxIsEffectivelyUnbounded(t *testing.T) {
	b := newReconnectBackoff(time.Hour, 0)
	if b.policy.MaxInterval < 24*time.Hour {
		t.Errorf("MaxInterval = %v, want an effectively unbounded ceiling", b.policy.MaxInterval)
	}
}
