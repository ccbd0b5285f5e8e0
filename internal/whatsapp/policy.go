package whatsapp

import (
	"math"
	"time"
)

// Decision is the outcome of the reconnect policy.
type Decision int

const (
	GiveUp Decision = iota
	Reconnect
)

func (d Decision) String() string {
	if d == Reconnect {
		return "reconnect"
	}
	return "give_up"
}

// Decide returns whether a session closed for reason should be reopened
// automatically. Only transient losses are retried; an unpaired device or a
// credential failure waits for an operator.
func Decide(reason DisconnectReason) Decision {
	if reason == ReasonTransient {
		return Reconnect
	}
	return GiveUp
}

// Backoff computes reconnect delays: Base doubled per attempt, stretched by
// up to Jitter (a fraction in [0,1]) and capped at Max. Because the jitter
// only ever stretches a delay by less than the doubling, delays never
// decrease from one attempt to the next.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
	// MaxAttempts bounds consecutive reconnects; 0 means unlimited.
	MaxAttempts int
}

// DefaultBackoff is used when configuration leaves the policy empty.
var DefaultBackoff = Backoff{
	Base:   2 * time.Second,
	Max:    2 * time.Minute,
	Jitter: 0.2,
}

func (b Backoff) normalized() Backoff {
	if b.Base <= 0 {
		b.Base = DefaultBackoff.Base
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	if b.Jitter > 1 {
		b.Jitter = 1
	}
	return b
}

// Delay returns the wait before reconnect attempt n (0-based). r is a random
// sample in [0,1).
func (b Backoff) Delay(attempt int, r float64) time.Duration {
	b = b.normalized()
	if attempt < 0 {
		attempt = 0
	}
	if r < 0 {
		r = 0
	}
	if r >= 1 {
		r = math.Nextafter(1, 0)
	}
	d := float64(b.Base) * math.Pow(2, float64(attempt))
	d *= 1 + b.Jitter*r
	if d >= float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt exceeds MaxAttempts.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt >= b.MaxAttempts
}
