package client

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a reconnect cycle. It is a plain value so the schedule can be
// inspected and tested without driving a real connection.
type Policy struct {
	MaxAttempts uint64        // Total connection attempts before giving up
	BaseDelay   time.Duration // Delay before the first retry
	Multiplier  float64       // Growth factor between retries
	MaxDelay    time.Duration // Ceiling on any single delay
}

// DefaultPolicy returns the reconnect bounds used when the caller does not
// supply their own
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    10 * time.Second,
	}
}

// NewBackOff builds the retry schedule for one reconnect cycle. Jitter is
// disabled so the schedule is deterministic; the server side does not care
// about thundering herds at this scale.
func (p Policy) NewBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.Multiplier = p.Multiplier
	eb.MaxInterval = p.MaxDelay
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()

	retries := uint64(0)
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return backoff.WithMaxRetries(eb, retries)
}
