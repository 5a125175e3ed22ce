// Package circuitbreaker guards chain RPC calls against a failing node.
//
// This is the automatic counterpart to the administrative emergency stop:
// the breaker opens itself when the RPC endpoint degrades, while the
// emergency stop is a human decision. Both must be clear before the
// scheduler submits a transaction.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prize-distributor/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means requests are allowed
	StateClosed State = "closed"
	// StateOpen means requests are blocked
	StateOpen State = "open"
	// StateHalfOpen means a limited number of probe requests are allowed
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a request
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyProbes is returned when the half-open probe budget is exhausted
var ErrTooManyProbes = errors.New("too many probe requests in half-open state")

// Config configures a circuit breaker
type Config struct {
	Name             string
	MaxFailures      int           // Consecutive failures before opening
	Timeout          time.Duration // Time in open state before probing
	HalfOpenMaxCalls int           // Probe budget in half-open state
}

// DefaultConfig returns a conservative default configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:             name,
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 2,
	}
}

// Breaker implements the circuit breaker pattern around an unreliable dependency
type Breaker struct {
	name             string
	maxFailures      int
	timeout          time.Duration
	halfOpenMaxCalls int

	mu               sync.Mutex
	state            State
	consecutiveFails int
	halfOpenCalls    int
	halfOpenSuccess  int
	lastStateChange  time.Time
}

// New creates a circuit breaker
func New(cfg *Config) *Breaker {
	return &Breaker{
		name:             cfg.Name,
		maxFailures:      cfg.MaxFailures,
		timeout:          cfg.Timeout,
		halfOpenMaxCalls: cfg.HalfOpenMaxCalls,
		state:            StateClosed,
		lastStateChange:  time.Now(),
	}
}

// Execute runs fn under breaker protection
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.lastStateChange) > b.timeout {
			b.setState(StateHalfOpen)
			logging.Global().WithFields(map[string]interface{}{
				"breaker": b.name,
				"state":   StateHalfOpen,
			}).Info("circuit breaker probing after timeout")
			b.halfOpenCalls++
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenCalls >= b.halfOpenMaxCalls {
			return ErrTooManyProbes
		}
		b.halfOpenCalls++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

func (b *Breaker) onSuccess() {
	b.consecutiveFails = 0

	if b.state == StateHalfOpen {
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.halfOpenMaxCalls {
			b.setState(StateClosed)
			logging.Global().WithFields(map[string]interface{}{
				"breaker": b.name,
				"state":   StateClosed,
			}).Info("circuit breaker closed after recovery")
		}
	}
}

func (b *Breaker) onFailure() {
	b.consecutiveFails++

	switch b.state {
	case StateClosed:
		if b.consecutiveFails >= b.maxFailures {
			b.setState(StateOpen)
			logging.Global().WithFields(map[string]interface{}{
				"breaker":          b.name,
				"state":            StateOpen,
				"consecutiveFails": b.consecutiveFails,
			}).Warn("circuit breaker opened")
		}
	case StateHalfOpen:
		b.setState(StateOpen)
		logging.Global().WithFields(map[string]interface{}{
			"breaker": b.name,
			"state":   StateOpen,
		}).Warn("circuit breaker reopened after failed probe")
	}
}

func (b *Breaker) setState(state State) {
	b.state = state
	b.lastStateChange = time.Now()
	b.halfOpenCalls = 0
	b.halfOpenSuccess = 0
}

// GetState returns the current breaker state
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset manually closes the breaker
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.consecutiveFails = 0
	logging.Global().WithField("breaker", b.name).Info("circuit breaker manually reset")
}
