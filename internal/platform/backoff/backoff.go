// Package backoff implements the bounded exponential reconnect policy
// shared by both venue stream clients.
package backoff

import (
	"context"
	"time"
)

const (
	// DefaultInitial is the delay before the first reconnect attempt.
	DefaultInitial = 1 * time.Second
	// DefaultMultiplier doubles the delay on each consecutive failure.
	DefaultMultiplier = 2.0
	// DefaultMax caps the delay.
	DefaultMax = 30 * time.Second
	// DefaultMaxAttempts bounds consecutive failures before the client
	// gives up and stays idle until restarted.
	DefaultMaxAttempts = 10
)

// Policy computes reconnect delays. The zero value is not usable; call
// Default or fill every field.
type Policy struct {
	Initial     time.Duration
	Multiplier  float64
	Max         time.Duration
	MaxAttempts int
}

// Default returns the engine-wide reconnect policy.
func Default() Policy {
	return Policy{
		Initial:     DefaultInitial,
		Multiplier:  DefaultMultiplier,
		Max:         DefaultMax,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Delay returns the wait before attempt n (0-based):
// min(initial * multiplier^n, max).
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.Initial)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.Max) {
			return p.Max
		}
	}
	if d > float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt (0-based) is past the attempt ceiling.
func (p Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

// Wait sleeps for the attempt's delay, returning early with the context's
// error when cancelled.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(p.Delay(attempt))
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
