package sink

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen rejects publishes while the circuit is open. Buffered
// treats it as "hold the event locally", never as a loss.
var ErrCircuitOpen = errors.New("sink: circuit open")

// State is the breaker position. The numeric values feed the
// fpengine_sink_circuit_breaker_state gauge directly.
type State int

const (
	StateClosed   State = iota // publishes pass through
	StateOpen                  // publishes rejected until the trip deadline
	StateHalfOpen              // one probe publish in flight
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

// CircuitBreaker cuts the Redis sink off after a run of pipeline failures,
// so a dead Redis costs one probe per reset window instead of a blocked
// pipeline write per candle. maxFailures consecutive errors trip the
// circuit open; once the reset window elapses a single probe is admitted,
// and its outcome decides between closing and re-tripping.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration

	mu        sync.Mutex
	state     State
	streak    int       // consecutive failures while closed
	openUntil time.Time // earliest probe admission after a trip
	probing   bool      // a half-open probe is in flight

	// OnStateChange fires on every transition, under the breaker lock.
	// The engine hangs the state gauge and the trip counter off it;
	// Buffered hangs its replay-on-close off it.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker builds a closed breaker that trips after maxFailures
// consecutive errors and probes again resetTimeout later.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
	}
}

// Execute runs fn if the breaker admits it and feeds the outcome back
// into the state machine. While open it returns ErrCircuitOpen without
// running fn; fn's own error passes through unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.settle(err)
	return err
}

// CurrentState reports the breaker position.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// admit decides whether a call may pass. At most one probe runs in
// half-open; concurrent callers are turned away as if the circuit were
// still open.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Now().Before(cb.openUntil) {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.probing = true
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

// settle records an admitted call's outcome.
func (cb *CircuitBreaker) settle(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.probing = false
		if err != nil {
			cb.trip()
		} else {
			cb.transition(StateClosed)
		}
		return
	}
	if err == nil {
		cb.streak = 0
		return
	}
	cb.streak++
	if cb.streak >= cb.maxFailures {
		cb.trip()
	}
}

// trip opens the circuit and arms the probe deadline. Caller holds mu.
func (cb *CircuitBreaker) trip() {
	cb.openUntil = time.Now().Add(cb.resetTimeout)
	cb.transition(StateOpen)
}

// transition moves the state and fires the hook. Caller holds mu.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateClosed {
		cb.streak = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
