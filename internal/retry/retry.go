// SPDX-License-Identifier: MIT

// Package retry wraps cenkalti/backoff with the delay classes used across
// the acquisition pipeline: throttling failures back off far longer than
// ordinary transient ones.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tubescribe/tubescribe/internal/faults"
)

// Policy describes one retry schedule.
type Policy struct {
	Attempts   uint          // total attempts, including the first
	BaseDelay  time.Duration // first backoff interval
	MaxDelay   time.Duration // interval cap
	Jitter     float64       // randomization factor, fraction of the interval
	Multiplier float64
}

// Throttled is the schedule for rate-limit and 503-class failures.
func Throttled() Policy {
	return Policy{Attempts: 4, BaseDelay: 2 * time.Second, MaxDelay: 120 * time.Second, Jitter: 0.1, Multiplier: 2}
}

// Transient is the schedule for everything else retryable.
func Transient() Policy {
	return Policy{Attempts: 4, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second, Jitter: 0.1, Multiplier: 2}
}

// ForKind picks the schedule matching an error kind.
func ForKind(kind faults.Kind) Policy {
	if faults.ServiceClass(kind) {
		return Throttled()
	}
	return Transient()
}

func (p Policy) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = p.Jitter
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0 // attempts bound the loop, not wall time
	if p.Attempts == 0 {
		return backoff.WithContext(b, ctx)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.Attempts-1)), ctx)
}

// Do runs op under the policy. Non-retryable failures (per faults.Retryable)
// abort immediately; the last error is returned after attempts are exhausted.
func Do(ctx context.Context, p Policy, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !faults.Retryable(faults.KindOf(err)) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backoff(ctx))
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
