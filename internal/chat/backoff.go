package chat

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: the delay doubles each attempt from
// Base up to Cap. A successful connect calls Reset to return to Base.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter bool

	attempt int
}

// DefaultBackoff matches the reconnect policy the backend expects:
// 1s base doubling to a 30s cap, unlimited attempts.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Cap: 30 * time.Second}
}

// Next returns the delay before the following attempt and advances the
// attempt counter.
func (b *Backoff) Next() time.Duration {
	delay := float64(b.Base) * math.Pow(2, float64(b.attempt))
	if delay > float64(b.Cap) {
		delay = float64(b.Cap)
	}

	if b.Jitter {
		// Up to 10% either way, to spread reconnect storms.
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(b.Base)
		}
	}

	b.attempt++
	return time.Duration(delay)
}

// Reset returns the policy to the base delay.
func (b *Backoff) Reset() { b.attempt = 0 }

// Attempt reports how many delays have been handed out since the last
// reset.
func (b *Backoff) Attempt() int { return b.attempt }
