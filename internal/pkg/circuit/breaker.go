// Package circuit gates trading on the prevailing volatility regime. The
// monitor feeds spike/calm observations; after enough consecutive spikes the
// breaker opens and the hook pauses new entries until the regime settles.
package circuit

import (
	"sync"
	"time"

	"scalpd/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

type Breaker struct {
	mu        sync.Mutex
	state     State
	spikes    int
	threshold int
	cooldown  time.Duration
	lastSpike time.Time
	name      string
	onChange  func(name string, from, to State)
	now       func() time.Time
}

func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		now:       time.Now,
	}
}

// SetStateChangeHandler registers the pause/resume hook. The hook runs
// synchronously inside the breaker's critical section; keep it cheap.
func (b *Breaker) SetStateChangeHandler(handler func(name string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = handler
}

// Allow reports whether new entries are permitted. An open breaker probes
// half-open after the cooldown elapses.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastSpike) > b.cooldown {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordCalm registers a below-threshold volatility reading.
func (b *Breaker) RecordCalm() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.transition(StateClosed)
		b.spikes = 0
	case StateClosed:
		b.spikes = 0
	}
}

// RecordSpike registers an above-threshold volatility reading.
func (b *Breaker) RecordSpike() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.spikes++
	b.lastSpike = b.now()

	switch b.state {
	case StateClosed:
		if b.spikes >= b.threshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	logger.Warnf("Breaker %s: %s -> %s (spikes=%d/%d cooldown=%s)",
		b.name, from, to, b.spikes, b.threshold, b.cooldown)
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}
