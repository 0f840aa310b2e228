// Package stats implements the domain.StatsStore port: recording
// admission/denial events and queue-depth snapshots for the admin surface to
// report on.
//
// MemoryStatsStore and RedisStatsStore both record domain.DecisionEvent
// (key, allowed, method, path) alongside per-queue depth snapshots
// (domain.QueueDepth).
package stats

import (
	"context"
	"sync"

	"ratelimit-gateway/internal/ratelimit/domain"
)

// Counters tallies allowed/denied decisions for a dimension (route, key, or
// process total).
type Counters struct {
	Allowed int64
	Denied  int64
}

// MemoryStatsStore is a process-local domain.StatsStore. Useful for tests
// and for the demo binary; it does not expire entries and is not meant for
// production use at scale.
type MemoryStatsStore struct {
	mu      sync.Mutex
	total   Counters
	byRoute map[string]Counters
	byKey   map[string]Counters

	queues map[string]domain.QueueDepth

	trackKeys bool
}

// MemoryStatsOption configures a MemoryStatsStore.
type MemoryStatsOption func(*MemoryStatsStore)

// WithTrackKeys enables per-identifier counters, off by default to avoid
// unbounded cardinality growth under high client churn.
func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

// NewMemoryStatsStore creates a MemoryStatsStore.
func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byRoute: make(map[string]Counters),
		byKey:   make(map[string]Counters),
		queues:  make(map[string]domain.QueueDepth),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.StatsStore = (*MemoryStatsStore)(nil)

// Record implements domain.StatsStore.
func (s *MemoryStatsStore) Record(_ context.Context, ev domain.DecisionEvent) error {
	route := ev.Method + " " + ev.Path

	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Allowed {
		s.total.Allowed++
		c := s.byRoute[route]
		c.Allowed++
		s.byRoute[route] = c
		if s.trackKeys {
			k := s.byKey[ev.Key]
			k.Allowed++
			s.byKey[ev.Key] = k
		}
		return nil
	}

	s.total.Denied++
	c := s.byRoute[route]
	c.Denied++
	s.byRoute[route] = c
	if s.trackKeys {
		k := s.byKey[ev.Key]
		k.Denied++
		s.byKey[ev.Key] = k
	}
	return nil
}

// RecordQueueDepth implements domain.StatsStore by keeping the latest
// snapshot per named queue.
func (s *MemoryStatsStore) RecordQueueDepth(_ context.Context, q domain.QueueDepth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[q.Name] = q
	return nil
}

// Total returns the cumulative allowed/denied counters.
func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// ByRoute returns a snapshot of counters keyed by "METHOD path".
func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byRoute))
	for k, v := range s.byRoute {
		out[k] = v
	}
	return out
}

// ByKey returns a snapshot of counters keyed by client identifier, empty
// unless WithTrackKeys(true) was set.
func (s *MemoryStatsStore) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byKey))
	for k, v := range s.byKey {
		out[k] = v
	}
	return out
}

// Queues returns the latest depth snapshot recorded per queue name.
func (s *MemoryStatsStore) Queues() map[string]domain.QueueDepth {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.QueueDepth, len(s.queues))
	for k, v := range s.queues {
		out[k] = v
	}
	return out
}
