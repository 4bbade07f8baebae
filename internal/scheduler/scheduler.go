// Package scheduler provides the one-shot delays that drive polling and
// token renewal. Loops are built by re-emitting an action after a delay,
// never with periodic timers.
package scheduler

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the time source used by workflows. Tests use clockwork's fake clock.
type Clock = clockwork.Clock

// Real returns the wall clock
func Real() Clock {
	return clockwork.NewRealClock()
}

// Delay waits for d on clk. It returns ctx.Err() if ctx ends first.
func Delay(ctx context.Context, clk Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clk.After(d):
		return nil
	}
}

// Timings are the fixed delays of the orchestration loops
type Timings struct {
	// SettleDelay separates starting a build from the first status request
	SettleDelay time.Duration
	// PollInterval separates status requests while a build or submission is running
	PollInterval time.Duration
	// PlatformTokenLifetime is how long platform and instance tokens are used before renewal
	PlatformTokenLifetime time.Duration
	// StandaloneTokenLifetime is the renewal delay for standalone instance tokens
	StandaloneTokenLifetime time.Duration
}

// DefaultTimings returns the delays the remote service expects
func DefaultTimings() Timings {
	return Timings{
		SettleDelay:             1000 * time.Millisecond,
		PollInterval:            5000 * time.Millisecond,
		PlatformTokenLifetime:   19*time.Minute + 30*time.Second,
		StandaloneTokenLifetime: 235 * time.Minute,
	}
}

// WithDefaults fills zero fields from DefaultTimings
func (t Timings) WithDefaults() Timings {
	d := DefaultTimings()
	if t.SettleDelay == 0 {
		t.SettleDelay = d.SettleDelay
	}
	if t.PollInterval == 0 {
		t.PollInterval = d.PollInterval
	}
	if t.PlatformTokenLifetime == 0 {
		t.PlatformTokenLifetime = d.PlatformTokenLifetime
	}
	if t.StandaloneTokenLifetime == 0 {
		t.StandaloneTokenLifetime = d.StandaloneTokenLifetime
	}
	return t
}
