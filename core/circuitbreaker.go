package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState represents the state of a circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

var (
	// ErrBreakerOpen is returned while the circuit is open.
	ErrBreakerOpen = errors.New("circuit breaker is open")
	// ErrBreakerBusy is returned when the half-open probe slot is taken.
	ErrBreakerBusy = errors.New("circuit breaker half-open probe in flight")
)

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	// MaxFailures is the consecutive-failure count that opens the circuit.
	MaxFailures uint32
	// Cooldown is how long the circuit stays open before a probe is allowed.
	Cooldown time.Duration
	// MaxProbes is the number of concurrent half-open probe requests.
	MaxProbes uint32
}

// Validate checks breaker configuration.
func (c BreakerConfig) Validate() error {
	if c.MaxFailures == 0 {
		return fmt.Errorf("%w: breaker max_failures must be positive", ErrConfigurationInvalid)
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("%w: breaker cooldown must be positive", ErrConfigurationInvalid)
	}
	if c.MaxProbes == 0 {
		return fmt.Errorf("%w: breaker max_probes must be positive", ErrConfigurationInvalid)
	}
	return nil
}

// DefaultBreakerConfig returns sensible defaults for outbound delivery.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 3, Cooldown: time.Minute, MaxProbes: 1}
}

// Breaker implements the circuit breaker pattern for outbound calls that
// must never stall the defense layer (webhook delivery, audit writes).
type Breaker struct {
	cfg          BreakerConfig
	mu           sync.Mutex
	state        BreakerState
	failures     uint32
	probes       uint32
	lastFailTime time.Time
}

// NewBreaker creates a closed circuit breaker.
func NewBreaker(cfg BreakerConfig) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Breaker{cfg: cfg, state: BreakerClosed}, nil
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.lastFailTime) > b.cfg.Cooldown {
			b.state = BreakerHalfOpen
			b.probes = 0
		} else {
			return ErrBreakerOpen
		}
	case BreakerClosed:
		return nil
	}

	if b.probes >= b.cfg.MaxProbes {
		return ErrBreakerBusy
	}
	b.probes++
	return nil
}

// RecordSuccess closes the circuit after a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probes = 0
}

// RecordFailure counts a failure, opening the circuit at the threshold.
// Any failure in half-open state reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailTime = time.Now()
	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.probes = 0
		return
	}
	b.failures++
	if b.failures >= b.cfg.MaxFailures {
		b.state = BreakerOpen
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
