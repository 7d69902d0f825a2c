package dispatch

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy shapes the delay between dispatch attempts for transient
// provider failures. Delays grow exponentially with jitter and are capped at
// MaxDelay; MaxAttempts bounds the total number of sends per message.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy mirrors the production defaults: five attempts, one
// second initial delay, ten minute cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Minute,
	}
}

// Delay returns the wait before the given attempt number (1-based). The
// jittered value differs call to call; only its bounds are stable.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d == backoff.Stop || d > p.MaxDelay+p.MaxDelay/2 {
		d = p.MaxDelay
	}
	return d
}

// Exhausted reports whether a message that has already burned the given
// number of attempts has no retries left.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
