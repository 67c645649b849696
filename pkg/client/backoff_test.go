package client

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

func TestPolicyScheduleGrowsAndCaps(t *testing.T) {
	policy := Policy{
		MaxAttempts: 6,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    400 * time.Millisecond,
	}
	b := policy.NewBackOff()

	var delays []time.Duration
	for {
		d := b.NextBackOff()
		if d == backoff.Stop {
			break
		}
		delays = append(delays, d)
	}

	// Five retries after the initial attempt, doubling until the cap
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
	}, delays)
}

func TestPolicySingleAttemptNeverRetries(t *testing.T) {
	policy := Policy{MaxAttempts: 1, BaseDelay: time.Second, Multiplier: 2.0, MaxDelay: time.Minute}
	b := policy.NewBackOff()

	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestDefaultPolicyIsBounded(t *testing.T) {
	b := DefaultPolicy().NewBackOff()

	count := 0
	for b.NextBackOff() != backoff.Stop {
		count++
	}
	assert.Equal(t, 4, count)
}
