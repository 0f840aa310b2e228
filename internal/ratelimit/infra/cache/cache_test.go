package cache

import (
	"context"
	"testing"
	"time"

	"ratelimit-gateway/internal/ratelimit/domain"
	"ratelimit-gateway/internal/ratelimit/infra/breaker"
	"ratelimit-gateway/internal/ratelimit/infra/memstore"
)

func newTestRule() domain.Rule {
	return domain.Rule{ID: "api", Window: time.Minute, MaxRequests: 2, Algorithm: domain.Fixed}
}

// failingStore always errors, simulating a primary store outage.
type failingStore struct{}

func (failingStore) CheckAndIncrement(context.Context, string, domain.Rule) (domain.CounterEntry, bool, error) {
	return domain.CounterEntry{}, false, domain.ErrStoreUnavailable
}
func (failingStore) Current(context.Context, string, domain.Rule) (domain.CounterEntry, error) {
	return domain.CounterEntry{}, domain.ErrStoreUnavailable
}
func (failingStore) Revert(context.Context, string, domain.Rule) error { return nil }
func (failingStore) Reset(context.Context, string) error               { return nil }
func (failingStore) Cleanup(context.Context, string) (int, error)      { return 0, nil }

func TestCheck_UsesPrimaryWhenHealthy(t *testing.T) {
	primary := memstore.New(time.Minute)
	fallback := memstore.New(time.Minute)
	c := New(breaker.New(), primary, fallback)
	rule := newTestRule()

	decision, err := c.Check(context.Background(), "k", rule)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected first request allowed")
	}
	if decision.RemainingRequests != 1 {
		t.Fatalf("expected 1 remaining, got %d", decision.RemainingRequests)
	}
}

func TestCheck_FallsBackWhenPrimaryFails(t *testing.T) {
	fallback := memstore.New(time.Minute)
	c := New(breaker.New(breaker.WithFailureThreshold(1)), failingStore{}, fallback)
	rule := newTestRule()

	decision, err := c.Check(context.Background(), "k", rule)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected fallback to admit the request")
	}
}

func TestCheck_FailsOpenWhenBreakerOpenAndFallbackDisabled(t *testing.T) {
	b := breaker.New(breaker.WithFailureThreshold(1), breaker.WithCooldown(time.Hour))
	fallback := memstore.New(time.Minute)
	c := New(b, failingStore{}, fallback, WithFallbackEnabled(false))
	rule := newTestRule()

	// First call: primary fails, opens the breaker.
	if _, err := c.Check(context.Background(), "k", rule); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State() != domain.Open {
		t.Fatalf("expected breaker open after failure, got %v", b.State())
	}

	decision, err := c.Check(context.Background(), "k", rule)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed || decision.RemainingRequests != rule.MaxRequests {
		t.Fatalf("expected fail-open decision, got %+v", decision)
	}
}

// recoveringStore fails its first n calls, then delegates to an in-memory
// store, simulating Redis coming back after an outage.
type recoveringStore struct {
	remaining int
	delegate  domain.Store
}

func (r *recoveringStore) CheckAndIncrement(ctx context.Context, key string, rule domain.Rule) (domain.CounterEntry, bool, error) {
	if r.remaining > 0 {
		r.remaining--
		return domain.CounterEntry{}, false, domain.ErrStoreUnavailable
	}
	return r.delegate.CheckAndIncrement(ctx, key, rule)
}
func (r *recoveringStore) Current(ctx context.Context, key string, rule domain.Rule) (domain.CounterEntry, error) {
	return r.delegate.Current(ctx, key, rule)
}
func (r *recoveringStore) Revert(ctx context.Context, key string, rule domain.Rule) error {
	return r.delegate.Revert(ctx, key, rule)
}
func (r *recoveringStore) Reset(ctx context.Context, key string) error { return r.delegate.Reset(ctx, key) }
func (r *recoveringStore) Cleanup(ctx context.Context, key string) (int, error) {
	return r.delegate.Cleanup(ctx, key)
}

func TestCheck_ProbesPrimaryAgainAfterCooldownWithFallbackDisabled(t *testing.T) {
	b := breaker.New(breaker.WithFailureThreshold(1), breaker.WithCooldown(time.Millisecond))
	primary := &recoveringStore{remaining: 1, delegate: memstore.New(time.Minute)}
	fallback := memstore.New(time.Minute)
	c := New(b, primary, fallback, WithFallbackEnabled(false))
	rule := newTestRule()

	if _, err := c.Check(context.Background(), "k", rule); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State() != domain.Open {
		t.Fatalf("expected breaker open after failure, got %v", b.State())
	}

	time.Sleep(2 * time.Millisecond)

	decision, err := c.Check(context.Background(), "k", rule)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected half-open trial to succeed and admit the request")
	}
	if b.State() != domain.Closed {
		t.Fatalf("expected breaker to close after successful trial, got %v", b.State())
	}
}

func TestRevert_DecrementsPrimaryWhileBreakerClosed(t *testing.T) {
	primary := memstore.New(time.Minute)
	fallback := memstore.New(time.Minute)
	c := New(breaker.New(), primary, fallback)
	rule := newTestRule()
	ctx := context.Background()

	if _, allowed, _ := primary.CheckAndIncrement(ctx, "k", rule); !allowed {
		t.Fatalf("expected first admission")
	}
	if err := c.Revert(ctx, "k", rule); err != nil {
		t.Fatalf("revert: %v", err)
	}

	entry, err := primary.Current(ctx, "k", rule)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if entry.Count != 0 {
		t.Fatalf("expected count 0 after revert, got %d", entry.Count)
	}
}

func TestReset_ClearsBothTiers(t *testing.T) {
	primary := memstore.New(time.Minute)
	fallback := memstore.New(time.Minute)
	c := New(breaker.New(), primary, fallback)
	rule := domain.Rule{ID: "api", Window: time.Minute, MaxRequests: 1}

	ctx := context.Background()
	if _, allowed, _ := primary.CheckAndIncrement(ctx, "k", rule); !allowed {
		t.Fatalf("expected first admission")
	}
	if _, allowed, _ := primary.CheckAndIncrement(ctx, "k", rule); allowed {
		t.Fatalf("expected exhausted before reset")
	}
	if _, allowed, _ := fallback.CheckAndIncrement(ctx, "k", rule); !allowed {
		t.Fatalf("expected first fallback admission")
	}

	if err := c.Reset(ctx, "k"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if _, allowed, _ := primary.CheckAndIncrement(ctx, "k", rule); !allowed {
		t.Fatalf("expected admission after reset")
	}
	if _, allowed, _ := fallback.CheckAndIncrement(ctx, "k", rule); !allowed {
		t.Fatalf("expected fallback admission after reset")
	}
}
