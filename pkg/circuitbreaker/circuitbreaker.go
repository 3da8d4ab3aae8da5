// Package circuitbreaker stops calls to a failing dependency until it shows
// signs of recovery. The streak feed client sits behind one so a feed outage
// cannot tie up every worker in retries.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of the breaker.
type State int

const (
	// StateClosed passes requests through.
	StateClosed State = iota
	// StateOpen rejects requests outright.
	StateOpen
	// StateHalfOpen lets a probe request through to test recovery.
	StateHalfOpen
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

var (
	// ErrCircuitOpen is returned while the breaker is rejecting requests.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open probe slot is taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

type config struct {
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	onStateChange    func(name string, from, to State)
}

// Option adjusts breaker behavior.
type Option func(*config)

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many half-open successes close the circuit.
func WithSuccessThreshold(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.successThreshold = n
		}
	}
}

// WithOpenTimeout sets how long the circuit stays open before probing.
func WithOpenTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.openTimeout = d
		}
	}
}

// WithOnStateChange registers a callback for state transitions, typically
// a log line.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *config) {
		c.onStateChange = fn
	}
}

// CircuitBreaker tracks consecutive failures of one named dependency.
type CircuitBreaker struct {
	name   string
	config config

	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	openedAt     time.Time
	probeClaimed bool
}

// New creates a closed breaker. Defaults: open after 5 consecutive
// failures, stay open 30 seconds, close after 2 probe successes.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := config{
		failureThreshold: 5,
		successThreshold: 2,
		openTimeout:      30 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{name: name, config: cfg}
}

// Execute runs fn if the circuit allows it and records the outcome. The
// returned error is fn's own, or ErrCircuitOpen / ErrTooManyRequests when
// the call was rejected without running.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the dependency name the breaker was created with.
func (cb *CircuitBreaker) Name() string { return cb.name }

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.openedAt) < cb.config.openTimeout {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.probeClaimed = true
		return nil
	default: // StateHalfOpen
		if cb.probeClaimed {
			return ErrTooManyRequests
		}
		cb.probeClaimed = true
		return nil
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probeClaimed = false

	if err != nil {
		cb.failures++
		cb.successes = 0
		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.config.failureThreshold {
				cb.open()
			}
		case StateHalfOpen:
			cb.open()
		}
		return
	}

	cb.successes++
	cb.failures = 0
	if cb.state == StateHalfOpen && cb.successes >= cb.config.successThreshold {
		cb.transition(StateClosed)
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = time.Now()
	cb.transition(StateOpen)
}

// transition must be called with the mutex held.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	cb.probeClaimed = false
	if cb.config.onStateChange != nil {
		cb.config.onStateChange(cb.name, from, to)
	}
}
