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
	StateHalfOpen State = 2 // one probe call allowed
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
// calls for resetTimeout. The next call after the timeout is a probe: success
// closes the breaker, failure reopens it.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	rejected     int
	maxFailures  int
	resetTimeout time.Duration
	openedAt     time.Time
	now          func() time.Time

	// OnStateChange is called with the lock held; it must not call back
	// into the breaker.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker creates a closed breaker. maxFailures <= 0 is treated
// as 1.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.rejected++
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			cb.openedAt = cb.now()
			cb.transition(StateOpen)
		}
		return err
	}
	if cb.state == StateHalfOpen {
		cb.transition(StateClosed)
	}
	cb.failures = 0
	return nil
}

// CurrentState returns the breaker state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Rejected returns how many calls were refused while open.
func (cb *CircuitBreaker) Rejected() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.rejected
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateClosed {
		cb.failures = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
