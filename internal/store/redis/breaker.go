package redis

import (
	"errors"
	"sync"
	"time"
)

// State is the breaker state. The numeric values are exported through a
// gauge, so they are part of the metrics contract.
type State int

const (
	StateClosed   State = iota // publishing normally
	StateOpen                  // rejecting calls until the cooldown elapses
	StateHalfOpen              // single probe call in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrBreakerOpen is returned instead of running a call while the breaker
// is open.
var ErrBreakerOpen = errors.New("redis breaker open")

// Breaker keeps a failing Redis out of the publish path. A streak of
// threshold consecutive failures opens it; once the cooldown elapses the
// next call runs as a probe, and the probe's outcome decides between
// closing and reopening.
type Breaker struct {
	mu       sync.Mutex
	state    State
	streak   int // consecutive failures
	lastFail time.Time

	threshold int
	cooldown  time.Duration

	OnStateChange func(from, to State) // optional
}

// NewBreaker returns a closed breaker.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// Do runs fn unless the breaker rejects it. fn's error is returned as is;
// a rejection returns ErrBreakerOpen without running fn.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.observe(err)
	return err
}

// State reports the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// admit decides whether a call may proceed, moving an expired open breaker
// to half-open so that the call acts as the probe.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return nil
	}
	if time.Since(b.lastFail) <= b.cooldown {
		return ErrBreakerOpen
	}
	b.shift(StateHalfOpen)
	return nil
}

// observe folds one call result into the state machine.
func (b *Breaker) observe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.streak++
		b.lastFail = time.Now()
		if b.state == StateHalfOpen || b.streak >= b.threshold {
			b.shift(StateOpen)
		}
		return
	}
	if b.state == StateHalfOpen {
		b.shift(StateClosed)
	}
	b.streak = 0
}

// shift must run with b.mu held.
func (b *Breaker) shift(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateClosed {
		b.streak = 0
	}
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}
