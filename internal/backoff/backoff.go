// Package backoff implements a capped exponential retry delay and the
// context-aware sleep used by every wait in the resolution loop.
package backoff

import (
	"context"
	"time"
)

// Policy describes a capped exponential schedule.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

// DefaultPolicy is the solver polling schedule: 5s, doubling, capped at 60s.
func DefaultPolicy() Policy {
	return Policy{Initial: 5 * time.Second, Max: 60 * time.Second, Factor: 2}
}

// Schedule is a running instance of a Policy. Not safe for concurrent use.
type Schedule struct {
	policy Policy
	next   time.Duration
}

// Start returns a fresh schedule positioned at the initial delay.
func (p Policy) Start() *Schedule {
	if p.Factor < 1 {
		p.Factor = 1
	}
	if p.Max > 0 && p.Initial > p.Max {
		p.Initial = p.Max
	}
	return &Schedule{policy: p, next: p.Initial}
}

// Next returns the delay to wait now and advances the schedule.
func (s *Schedule) Next() time.Duration {
	d := s.next
	grown := time.Duration(float64(s.next) * s.policy.Factor)
	if s.policy.Max > 0 && grown > s.policy.Max {
		grown = s.policy.Max
	}
	s.next = grown
	return d
}

// Reset moves the schedule back to the initial delay.
func (s *Schedule) Reset() {
	s.next = s.policy.Initial
}

// Sleeper blocks for a duration or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// RealSleeper waits on the wall clock.
var RealSleeper Sleeper = SleeperFunc(Sleep)

// Sleep waits for d, returning ctx.Err() if the context ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
