package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ratelimit-gateway/internal/ratelimit/domain"
)

const (
	defaultPeriodicInterval       = 10 * time.Minute
	defaultPeriodicMaxAttempts    = 2
	defaultPeriodicCompletedLimit = 3
	defaultPeriodicFailedLimit    = 2
)

// Periodic is the cron-style cleanup queue: every interval it runs
// store.Cleanup(pattern) against the distributed store, retrying a failed
// run a bounded number of times and retaining a bounded run history.
//
// It uses the same ticker-goroutine-over-context shape as
// infra/memstore.StartJanitor and infra/throttle.StartJanitor.
type Periodic struct {
	store       domain.Store
	pattern     string
	interval    time.Duration
	maxAttempts int

	logger *zap.Logger

	completed *ring
	failed    *ring

	name string
}

// PeriodicOption configures a Periodic queue.
type PeriodicOption func(*Periodic)

// WithPeriodicInterval overrides the run interval, default 10m.
func WithPeriodicInterval(d time.Duration) PeriodicOption {
	return func(p *Periodic) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithPeriodicMaxAttempts overrides the retry ceiling per run, default 2.
func WithPeriodicMaxAttempts(n int) PeriodicOption {
	return func(p *Periodic) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithPeriodicRetainedHistory overrides retained run history, default 3/2.
func WithPeriodicRetainedHistory(completed, failed int) PeriodicOption {
	return func(p *Periodic) {
		if completed > 0 {
			p.completed = newRing(completed)
		}
		if failed > 0 {
			p.failed = newRing(failed)
		}
	}
}

// WithPeriodicLogger attaches a logger.
func WithPeriodicLogger(logger *zap.Logger) PeriodicOption {
	return func(p *Periodic) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPeriodic creates a Periodic cleanup queue running store.Cleanup against
// pattern (typically "rl:*").
func NewPeriodic(store domain.Store, pattern string, opts ...PeriodicOption) *Periodic {
	p := &Periodic{
		store:       store,
		pattern:     pattern,
		interval:    defaultPeriodicInterval,
		maxAttempts: defaultPeriodicMaxAttempts,
		completed:   newRing(defaultPeriodicCompletedLimit),
		failed:      newRing(defaultPeriodicFailedLimit),
		logger:      zap.NewNop(),
		name:        "periodic-cleanup",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunOnce executes a single cleanup pass, making at most maxAttempts
// attempts in total before recording the run as failed.
func (p *Periodic) RunOnce(ctx context.Context) (deleted int, err error) {
	job := Job{Kind: JobCleanup, Pattern: p.pattern, EnqueuedAt: time.Now()}

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		deleted, err = p.store.Cleanup(ctx, p.pattern)
		if err == nil {
			job.Attempts = attempt
			p.completed.push(job)
			return deleted, nil
		}
		p.logger.Warn("periodic cleanup attempt failed",
			zap.Int("attempt", attempt), zap.Error(err))
	}

	job.Attempts = p.maxAttempts
	p.failed.push(job)
	return 0, err
}

// Start runs RunOnce every interval until ctx is done.
func (p *Periodic) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := p.RunOnce(ctx); err != nil {
					p.logger.Error("periodic cleanup exhausted retries", zap.Error(err))
				}
			}
		}
	}()
}

// Depth reports bounded run history for the admin stats surface.
func (p *Periodic) Depth() domain.QueueDepth {
	return domain.QueueDepth{
		Name:      p.name,
		Completed: p.completed.len(),
		Failed:    p.failed.len(),
	}
}
