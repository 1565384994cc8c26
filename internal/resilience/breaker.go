// Package resilience provides the failure breaker that guards the pipeline's
// sink pull loop.
//
// [Breaker] turns a run of consecutive pull errors into a fast-fail signal:
// closed while the sink is healthy, tripped after too many errors in a row,
// probing after a cooldown to see whether the sink recovered. The transcoding
// pipeline treats a tripped breaker as "the engine underneath has died" and
// declares the stream terminally failed. Pull timeouts never feed the
// breaker; only real errors do.
//
// Safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] when the breaker is tripped and the
// cooldown has not yet elapsed, or when the probe quota is spent.
var ErrOpen = errors.New("resilience: breaker open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// Closed lets every call through.
	Closed BreakerState = iota

	// Tripped rejects every call with [ErrOpen] until the cooldown elapses.
	Tripped

	// Probing lets a limited number of calls through after the cooldown. If
	// all of them succeed the breaker closes again; one failure re-trips it.
	Probing
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Tripped:
		return "tripped"
	case Probing:
		return "probing"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// TripAfter is the number of consecutive failures that trips the breaker.
	// Default: 5.
	TripAfter int

	// Cooldown is how long a tripped breaker waits before probing.
	// Default: 30s.
	Cooldown time.Duration

	// Probes is the number of calls that must succeed in a row for a probing
	// breaker to close. Default: 3.
	Probes int
}

// Breaker is a three-state failure breaker. The zero value is not usable;
// construct with [NewBreaker].
type Breaker struct {
	name      string
	tripAfter int
	cooldown  time.Duration
	probes    int

	mu          sync.Mutex
	state       BreakerState
	failStreak  int
	trippedAt   time.Time
	probesSent  int
	probeFailed bool
}

// NewBreaker builds a [Breaker], substituting defaults for zero config fields.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 3
	}
	return &Breaker{
		name:      cfg.Name,
		tripAfter: cfg.TripAfter,
		cooldown:  cfg.Cooldown,
		probes:    cfg.Probes,
	}
}

// Do runs fn unless the breaker is rejecting calls, in which case it returns
// [ErrOpen] without invoking fn. The outcome of fn feeds the failure
// accounting.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	callErr := fn()
	b.observe(callErr, probe)
	return callErr
}

// admit decides whether a call may proceed and whether it counts as a probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Tripped {
		if time.Since(b.trippedAt) < b.cooldown {
			return false, ErrOpen
		}
		b.state = Probing
		b.probesSent = 0
		b.probeFailed = false
		slog.Info("breaker probing after cooldown", "name", b.name)
	}

	if b.state == Probing {
		if b.probesSent >= b.probes {
			// Probe quota spent; decision pends on the in-flight calls.
			return false, ErrOpen
		}
		b.probesSent++
		return true, nil
	}
	return false, nil
}

// observe records the outcome of an admitted call.
func (b *Breaker) observe(callErr error, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if callErr == nil {
		if probe && b.probesSent >= b.probes && !b.probeFailed {
			b.state = Closed
			b.failStreak = 0
			slog.Info("breaker closed after successful probes", "name", b.name)
		} else if !probe {
			b.failStreak = 0
		}
		return
	}

	b.trippedAt = time.Now()
	if probe {
		b.probeFailed = true
		b.state = Tripped
		b.failStreak = b.tripAfter
		slog.Warn("breaker re-tripped during probe", "name", b.name)
		return
	}

	b.failStreak++
	if b.failStreak >= b.tripAfter {
		b.state = Tripped
		slog.Warn("breaker tripped",
			"name", b.name,
			"consecutive_failures", b.failStreak)
	}
}

// State reports the current mode. A tripped breaker whose cooldown has
// elapsed reports [Probing]; the actual transition happens on the next [Do].
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Tripped && time.Since(b.trippedAt) >= b.cooldown {
		return Probing
	}
	return b.state
}

// Reset forces the breaker back to [Closed] and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.failStreak = 0
	b.probesSent = 0
	b.probeFailed = false
	slog.Info("breaker reset", "name", b.name)
}
