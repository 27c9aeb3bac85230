package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
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
	default:
		return "unknown"
	}
}

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Breaker protects calls to an external collaborator. After MaxFailures
// consecutive failures the circuit opens; after Timeout it admits up to
// HalfOpenMax probes before deciding to close or re-open.
type Breaker struct {
	name        string
	maxFailures int
	timeout     time.Duration
	halfOpenMax int

	mu            sync.Mutex
	state         State
	failures      int
	halfOpenCount int
	lastFailure   time.Time
	onStateChange func(from, to State)
}

// Config holds circuit breaker configuration
type Config struct {
	Name          string
	MaxFailures   int
	Timeout       time.Duration
	HalfOpenMax   int
	OnStateChange func(from, to State)
}

// NewBreaker creates a new circuit breaker
func NewBreaker(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &Breaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		timeout:       cfg.Timeout,
		halfOpenMax:   cfg.HalfOpenMax,
		state:         StateClosed,
		onStateChange: cfg.OnStateChange,
	}
}

// Execute runs fn under breaker protection.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := b.allowRequest(); err != nil {
		return err
	}

	err := fn()

	if err != nil && ctx.Err() == nil {
		b.recordFailure()
		return err
	}
	if err != nil {
		// Caller cancellation does not indict the collaborator.
		return err
	}

	b.recordSuccess()
	return nil
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allowRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.lastFailure) < b.timeout {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.halfOpenCount = 1
		return nil
	case StateHalfOpen:
		if b.halfOpenCount >= b.halfOpenMax {
			return ErrTooManyRequests
		}
		b.halfOpenCount++
		return nil
	}
	return nil
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()

	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
	case StateClosed:
		b.failures++
		if b.failures >= b.maxFailures {
			b.transition(StateOpen)
		}
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.transition(StateClosed)
	case StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.failures = 0
	b.halfOpenCount = 0
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
