package engine

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides how a failed event is redelivered.
//
// Delivery is at-least-once: a failed event stays in its stream, hidden for
// an exponentially growing delay. After MaxAttempts failures it is parked.
type RetryPolicy struct {
	// MaxAttempts is the number of failed deliveries after which the event
	// is parked. Zero or less retries forever.
	MaxAttempts int

	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     time.Minute,
		Multiplier:      2,
	}
}

// Delay returns the wait before redelivery after the given failed attempt
// (1 for the first failure). Delays are deterministic: no jitter is applied.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		bo.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		bo.Multiplier = p.Multiplier
	}
	bo.Reset()

	d := bo.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = bo.NextBackOff()
	}
	return d
}

// Exhausted reports whether an event that has failed attempts times should
// be parked.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
