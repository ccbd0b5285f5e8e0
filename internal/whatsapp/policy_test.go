package whatsapp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		reason DisconnectReason
		want   Decision
	}{
		{ReasonTransient, Reconnect},
		{ReasonLoggedOut, GiveUp},
		{ReasonCredentialError, GiveUp},
		{ReasonNone, GiveUp},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Decide(tc.reason), "reason %q", tc.reason)
	}
	assert.Equal(t, "reconnect", Reconnect.String())
	assert.Equal(t, "give_up", GiveUp.String())
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute, Jitter: 0.5}

	assert.Equal(t, time.Second, b.Delay(0, 0))
	assert.Equal(t, 2*time.Second, b.Delay(1, 0))
	assert.Equal(t, 1500*time.Millisecond, b.Delay(0, 0.999999).Round(time.Millisecond))
	assert.Equal(t, time.Minute, b.Delay(10, 0))
	assert.Equal(t, time.Minute, b.Delay(5000, 0.9))
	assert.Equal(t, time.Second, b.Delay(-3, 0))
}

func TestBackoffNonDecreasingAndCapped(t *testing.T) {
	b := Backoff{Base: 500 * time.Millisecond, Max: 90 * time.Second, Jitter: 1}
	samples := []float64{0, 0.25, 0.5, 0.99, 0.999999}

	for n := 0; n < 64; n++ {
		for _, r1 := range samples {
			for _, r2 := range samples {
				cur, next := b.Delay(n, r1), b.Delay(n+1, r2)
				assert.LessOrEqual(t, cur, next, "attempt %d r1=%v r2=%v", n, r1, r2)
				assert.LessOrEqual(t, next, b.Max)
				assert.Positive(t, cur)
			}
		}
	}
}

func TestBackoffNormalizes(t *testing.T) {
	var zero Backoff
	assert.Equal(t, DefaultBackoff.Base, zero.Delay(0, 0))

	b := Backoff{Base: time.Minute, Max: time.Second, Jitter: 7}
	assert.Equal(t, time.Minute, b.Delay(0, 0.5), "max below base is raised to base")
	assert.Equal(t, time.Minute, b.Delay(3, 0.5))

	neg := Backoff{Base: time.Second, Max: time.Hour, Jitter: -1}
	assert.Equal(t, time.Second, neg.Delay(0, 0.9))
}

func TestBackoffExhausted(t *testing.T) {
	unlimited := Backoff{}
	assert.False(t, unlimited.Exhausted(1_000_000))

	b := Backoff{MaxAttempts: 3}
	assert.False(t, b.Exhausted(2))
	assert.True(t, b.Exhausted(3))
	assert.True(t, b.Exhausted(4))
}
