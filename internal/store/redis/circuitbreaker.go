package redis

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // calls pass through
	StateOpen     State = 1 // calls rejected until the reset timeout elapses
	StateHalfOpen State = 2 // one probe call allowed through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker opens after maxFailures consecutive failures and rejects
// calls for resetTimeout. The first call after that is a probe: success
// closes the breaker, failure reopens it.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	openedAt     time.Time
	probing      bool
	now          func() time.Time

	// OnStateChange is called on every transition after the lock is
	// released (optional).
	OnStateChange func(from, to State)
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Execute runs fn unless the breaker is open. Only one probe runs while
// half-open; concurrent callers get ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	var changes [][2]State

	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		changes = append(changes, cb.setLocked(StateHalfOpen))
		cb.probing = true
	case StateHalfOpen:
		if cb.probing {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	cb.mu.Unlock()
	cb.notify(changes)
	changes = changes[:0]

	err := fn()

	cb.mu.Lock()
	wasProbe := cb.probing
	cb.probing = false
	if err != nil {
		cb.failures++
		if wasProbe || cb.failures >= cb.maxFailures {
			changes = append(changes, cb.setLocked(StateOpen))
			cb.openedAt = cb.now()
		}
	} else {
		cb.failures = 0
		if cb.state != StateClosed {
			changes = append(changes, cb.setLocked(StateClosed))
		}
	}
	cb.mu.Unlock()
	cb.notify(changes)
	return err
}

// CurrentState returns the current circuit breaker state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) setLocked(to State) [2]State {
	from := cb.state
	cb.state = to
	return [2]State{from, to}
}

func (cb *CircuitBreaker) notify(changes [][2]State) {
	if cb.OnStateChange == nil {
		return
	}
	for _, c := range changes {
		if c[0] != c[1] {
			cb.OnStateChange(c[0], c[1])
		}
	}
}
