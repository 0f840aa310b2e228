// Package throttle implements a local throttle: a per-client smoothing
// delay computed from a burst rule's min_interval, applied by sleeping the
// caller's goroutine rather than denying the request.
//
// It keeps a map of *rate.Limiter entries swept by an idle-TTL janitor,
// but instead of gating admission itself (the distributed/fallback stores
// do that), each key's *rate.Limiter is used only for its
// Reserve().Delay() computation — effectively computing
// max(0, min_interval - (now - last)) through golang.org/x/time/rate
// instead of by hand.
package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultMaxDelay = time.Second

// Throttle smooths request bursts per client identifier by introducing a
// sleep instead of a denial.
type Throttle struct {
	mu              sync.Mutex
	entries         map[string]*entry
	maxDelay        time.Duration
	minIntervalRate rate.Limit

	sweepSizeThreshold int
	sweepAge           time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithMaxDelay bounds how long a single call to Wait will sleep, default 1s.
func WithMaxDelay(d time.Duration) Option {
	return func(t *Throttle) {
		if d > 0 {
			t.maxDelay = d
		}
	}
}

// WithSweepThresholds sets the size at which the map is swept and the age
// beyond which an idle entry is removed during a sweep. Defaults are 1000
// entries and 60s.
func WithSweepThresholds(size int, age time.Duration) Option {
	return func(t *Throttle) {
		if size > 0 {
			t.sweepSizeThreshold = size
		}
		if age > 0 {
			t.sweepAge = age
		}
	}
}

// New creates a Throttle. maxRequests and window describe the burst
// rule whose min_interval (window/max_requests) every client is smoothed
// against.
func New(window time.Duration, maxRequests int, opts ...Option) *Throttle {
	t := &Throttle{
		entries:            make(map[string]*entry),
		maxDelay:           defaultMaxDelay,
		sweepSizeThreshold: 1000,
		sweepAge:           60 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}

	minInterval := minInterval(window, maxRequests)
	t.minIntervalRate = rate.Every(minInterval)
	return t
}

func minInterval(window time.Duration, maxRequests int) time.Duration {
	if maxRequests <= 0 {
		return 0
	}
	return window / time.Duration(maxRequests)
}

// Wait blocks the caller for the delay a fresh arrival from identifier
// would need to respect min_interval, bounded by maxDelay, then returns.
// It never returns an error: when ctx is cancelled mid-sleep it returns
// immediately without having slept the full delay.
func (t *Throttle) Wait(ctx context.Context, identifier string) time.Duration {
	delay := t.reserve(identifier)
	if delay <= 0 {
		return 0
	}
	if delay > t.maxDelay {
		delay = t.maxDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return delay
	case <-ctx.Done():
		return 0
	}
}

func (t *Throttle) reserve(identifier string) time.Duration {
	t.mu.Lock()
	e, ok := t.entries[identifier]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(t.minIntervalRate, 1)}
		t.entries[identifier] = e
	}
	now := time.Now()
	e.lastSeen = now
	shouldSweep := len(t.entries) > t.sweepSizeThreshold
	t.mu.Unlock()

	reservation := e.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)

	if shouldSweep {
		t.Sweep()
	}

	return delay
}

// Forget deletes identifier's throttle record, part of the administrative
// reset contract alongside clearing its rate-limit counters.
func (t *Throttle) Forget(identifier string) {
	t.mu.Lock()
	delete(t.entries, identifier)
	t.mu.Unlock()
}

// Sweep removes entries not seen within the configured sweep age. It is
// safe to call concurrently with Wait.
func (t *Throttle) Sweep() int {
	cutoff := time.Now().Add(-t.sweepAge)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for k, e := range t.entries {
		if e.lastSeen.Before(cutoff) {
			delete(t.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports how many client identifiers are currently tracked.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// StartJanitor starts a goroutine sweeping idle entries every interval
// until ctx is done, mirroring the in-memory fallback store's own janitor
// (memstore.StartJanitor).
func (t *Throttle) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = t.sweepAge
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Sweep()
			}
		}
	}()
}
