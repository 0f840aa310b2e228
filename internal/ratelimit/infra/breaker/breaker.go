// Package breaker implements a circuit breaker guarding the distributed
// counter store: a run of consecutive failures opens the circuit and
// routes calls straight to the fallback; after a cooldown the circuit
// allows a single trial call through (half-open) to decide whether to
// close again. A streak counter drives opening, an elapsed-cooldown check
// drives the half-open trial, across the standard three-state
// CLOSED/OPEN/HALF_OPEN machine.
package breaker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ratelimit-gateway/internal/ratelimit/domain"
)

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithCooldown sets how long the circuit stays open before trying a
// half-open trial call.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithLogger attaches a logger for state transitions.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Breaker is a domain.Breaker implementation.
type Breaker struct {
	mu sync.Mutex

	state            domain.BreakerState
	failureThreshold int
	cooldown         time.Duration
	consecutiveFails int
	openedAt         time.Time
	halfOpenInFlight bool

	logger *zap.Logger
}

// New creates a Breaker starting CLOSED.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		state:            domain.Closed,
		failureThreshold: 5,
		cooldown:         30 * time.Second,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ domain.Breaker = (*Breaker)(nil)

// State implements domain.Breaker.
func (b *Breaker) State() domain.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute implements domain.Breaker: when CLOSED, it calls primary and
// counts failures toward opening the circuit; when OPEN, it calls fallback
// directly (returning domain.ErrBreakerOpen if fallback is nil) until the
// cooldown elapses, at which point exactly one caller is let through as a
// HALF_OPEN trial; when that trial succeeds the circuit closes, and when it
// fails the circuit re-opens with a fresh cooldown.
func (b *Breaker) Execute(
	ctx context.Context,
	primary func(context.Context) (domain.CounterEntry, bool, error),
	fallback func(context.Context) (domain.CounterEntry, bool, error),
) (domain.CounterEntry, bool, error) {
	if b.shouldTryPrimary() {
		entry, allowed, err := primary(ctx)
		if err == nil {
			b.onSuccess()
			return entry, allowed, nil
		}
		b.onFailure()
		return fallback(ctx)
	}
	if fallback == nil {
		return domain.CounterEntry{}, false, domain.ErrBreakerOpen
	}
	return fallback(ctx)
}

// shouldTryPrimary decides whether this call should exercise primary,
// admitting at most one concurrent half-open trial.
func (b *Breaker) shouldTryPrimary() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.Closed:
		return true
	case domain.HalfOpen:
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	default: // Open
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.state = domain.HalfOpen
		b.halfOpenInFlight = true
		b.logger.Info("breaker entering half-open trial")
		return true
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != domain.Closed {
		b.logger.Info("breaker closing after successful trial")
	}
	b.state = domain.Closed
	b.consecutiveFails = 0
	b.halfOpenInFlight = false
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.halfOpenInFlight = false

	if b.state == domain.HalfOpen {
		b.state = domain.Open
		b.openedAt = time.Now()
		b.logger.Warn("breaker re-opening after failed trial")
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failureThreshold {
		b.state = domain.Open
		b.openedAt = time.Now()
		b.logger.Warn("breaker opening after consecutive failures",
			zap.Int("consecutive_failures", b.consecutiveFails))
	}
}
