// SPDX-License-Identifier: MIT

// Package rategate serialises access to one (provider, model) upstream.
// A gate combines a sliding one-minute admission window, an exponential
// cooldown after consecutive failures, and a three-state circuit breaker.
// All three share the same key so a degraded model throttles every worker
// at once.
package rategate

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/tubescribe/tubescribe/internal/faults"
	"github.com/tubescribe/tubescribe/internal/log"
	"github.com/tubescribe/tubescribe/internal/metrics"
	"github.com/tubescribe/tubescribe/internal/providers"
)

// clock abstracts time for tests.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

const (
	windowSize          = time.Minute
	defaultBaseBackoff  = 2 * time.Second
	defaultMaxBackoff   = 120 * time.Second
	defaultSuccessesToC = 2 // half-open wins required to close

	// cooldownArmAt is the consecutive-failure count that starts backing
	// the whole gate off.
	cooldownArmAt = 3
)

// Gate guards one model key.
type Gate struct {
	profile providers.Profile

	mu       sync.Mutex
	window   []time.Time // admission timestamps, oldest first
	failures int         // consecutive failures
	cooldown time.Time   // all callers block until this instant

	state        State
	nextAttempt  time.Time // open -> half-open probe time
	halfOpenWins int

	baseBackoff      time.Duration
	maxBackoff       time.Duration
	successThreshold int
	clock            clock
}

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Option configures a Gate.
type Option func(*Gate)

// WithClock injects a deterministic clock for tests.
func WithClock(c clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithBackoff overrides the cooldown schedule.
func WithBackoff(base, max time.Duration) Option {
	return func(g *Gate) { g.baseBackoff, g.maxBackoff = base, max }
}

// New builds a gate for the given model profile.
func New(profile providers.Profile, opts ...Option) *Gate {
	g := &Gate{
		profile:          profile,
		state:            StateClosed,
		baseBackoff:      defaultBaseBackoff,
		maxBackoff:       defaultMaxBackoff,
		successThreshold: defaultSuccessesToC,
		clock:            realClock{},
	}
	for _, opt := range opts {
		opt(g)
	}
	metrics.SetCircuitBreakerState(g.profile.Key(), string(g.state))
	return g
}

// Acquire blocks until the gate admits one request, then returns a lease.
// It returns early when ctx is cancelled. Admission order among blocked
// callers is not guaranteed.
func (g *Gate) Acquire(ctx context.Context) (*Lease, error) {
	started := g.clock.Now()
	for {
		admitted, wait := g.tryAdmit()
		if admitted {
			key := g.profile.Key()
			metrics.RateGateAdmissions.WithLabelValues(key).Inc()
			metrics.RateGateWaits.WithLabelValues(key).Observe(g.clock.Now().Sub(started).Seconds())
			return &Lease{gate: g}, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAdmit decides admission at this instant. When refused it returns how
// long the caller should sleep before asking again.
func (g *Gate) tryAdmit() (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()

	switch g.state {
	case StateOpen:
		if now.Before(g.nextAttempt) {
			return false, minWait(g.nextAttempt.Sub(now))
		}
		g.transition(StateHalfOpen)
	case StateHalfOpen:
		// Probes flow through the same window accounting below.
	}

	if now.Before(g.cooldown) {
		return false, minWait(g.cooldown.Sub(now))
	}

	g.prune(now)
	if len(g.window) >= g.profile.AdmitPerMinute() {
		oldest := g.window[0]
		return false, minWait(oldest.Add(windowSize).Sub(now))
	}

	g.window = append(g.window, now)
	return true, 0
}

// prune drops window entries older than one minute. Caller holds the lock.
func (g *Gate) prune(now time.Time) {
	cutoff := now.Add(-windowSize)
	i := 0
	for i < len(g.window) && !g.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		g.window = append(g.window[:0], g.window[i:]...)
	}
}

func (g *Gate) recordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failures = 0
	g.cooldown = time.Time{}

	if g.state == StateHalfOpen {
		g.halfOpenWins++
		if g.halfOpenWins >= g.successThreshold {
			g.transition(StateClosed)
		}
	} else if g.state == StateOpen {
		// A success from a lease admitted before the trip; ignore for
		// state purposes.
		return
	}
}

func (g *Gate) recordFailure(err error) {
	kind := faults.KindOf(err)

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	g.failures++

	if g.failures >= cooldownArmAt {
		exp := math.Pow(2, float64(g.failures-cooldownArmAt))
		d := time.Duration(float64(g.baseBackoff) * exp)
		if d > g.maxBackoff {
			d = g.maxBackoff
		}
		g.cooldown = now.Add(d)
	}

	switch g.state {
	case StateHalfOpen:
		metrics.RecordCircuitBreakerTrip(g.profile.Key(), "half_open_failure")
		g.open(now)
	case StateClosed:
		serviceClass := faults.ServiceClass(kind)
		if g.failures >= g.profile.FailureThreshold || (serviceClass && g.failures >= 2) {
			reason := "threshold_exceeded"
			if serviceClass && g.failures < g.profile.FailureThreshold {
				reason = "service_error"
			}
			metrics.RecordCircuitBreakerTrip(g.profile.Key(), reason)
			g.open(now)
		}
	}
}

// open arms the breaker. Caller holds the lock.
func (g *Gate) open(now time.Time) {
	g.nextAttempt = now.Add(g.profile.Recovery)
	g.transition(StateOpen)
}

// transition updates state and the exported gauge. Caller holds the lock.
func (g *Gate) transition(to State) {
	if g.state == to {
		return
	}
	from := g.state
	g.state = to
	if to == StateHalfOpen {
		g.halfOpenWins = 0
	}
	metrics.SetCircuitBreakerState(g.profile.Key(), string(to))
	log.WithComponent("rategate").Debug().
		Str(log.FieldModel, g.profile.Model).
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Msg("circuit transition")
}

// State returns the current breaker state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// minWait clamps sleep intervals so clock skew cannot produce busy loops
// or pathological waits.
func minWait(d time.Duration) time.Duration {
	const floor = 10 * time.Millisecond
	if d < floor {
		return floor
	}
	return d
}

// Lease is the right to issue one admitted request. Exactly one of
// Success/Failure should be reported; extra reports are ignored.
type Lease struct {
	gate *Gate
	once sync.Once
}

// Success reports a completed request.
func (l *Lease) Success(elapsed time.Duration) {
	l.once.Do(func() {
		_ = elapsed // recorded by the engine's histograms
		l.gate.recordSuccess()
	})
}

// Failure reports a failed request.
func (l *Lease) Failure(err error) {
	l.once.Do(func() { l.gate.recordFailure(err) })
}
