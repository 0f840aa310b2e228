// Package cache implements the dual-tier cache layer: a uniform
// check/current/reset API composing breaker → distributed store →
// in-memory fallback, with an explicit fail-open toggle for when the
// fallback itself is disabled. Composing the breaker around the primary
// and fallback stores is factored into its own layer rather than left
// inline in main.
package cache

import (
	"context"
	"time"

	"ratelimit-gateway/internal/ratelimit/domain"
)

// Option configures a Cache.
type Option func(*Cache)

// WithFallbackEnabled toggles whether the in-memory fallback participates.
// When disabled and the breaker is open, Check returns a fail-open
// Decision instead of consulting fallback.
func WithFallbackEnabled(enabled bool) Option {
	return func(c *Cache) { c.fallbackEnabled = enabled }
}

// Cache is a domain.Cache implementation.
type Cache struct {
	breaker         domain.Breaker
	primary         domain.Store
	fallback        domain.Store
	fallbackEnabled bool
}

// New composes a Cache from its three tiers.
func New(breaker domain.Breaker, primary, fallback domain.Store, opts ...Option) *Cache {
	c := &Cache{breaker: breaker, primary: primary, fallback: fallback, fallbackEnabled: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ domain.Cache = (*Cache)(nil)

// Check implements domain.Cache: it runs the rule's check-and-increment
// through the breaker, falling back to the in-memory store (or, when
// fallback is disabled, admitting the request) when the primary call fails.
//
// The breaker is always given a chance to run primary, even while fallback
// is disabled: skipping Execute would also skip the half-open trial it
// gates, and the circuit would never probe Redis again once opened.
func (c *Cache) Check(ctx context.Context, key string, rule domain.Rule) (domain.Decision, error) {
	entry, allowed, err := c.breaker.Execute(ctx,
		func(ctx context.Context) (domain.CounterEntry, bool, error) {
			return c.primary.CheckAndIncrement(ctx, key, rule)
		},
		func(ctx context.Context) (domain.CounterEntry, bool, error) {
			if !c.fallbackEnabled {
				return domain.CounterEntry{ResetTime: time.Now().Add(rule.Window)}, true, nil
			}
			return c.fallback.CheckAndIncrement(ctx, key, rule)
		},
	)
	if err != nil {
		return domain.Decision{}, err
	}

	return buildDecision(entry, allowed, rule), nil
}

// Current implements domain.Cache without mutating any counter.
func (c *Cache) Current(ctx context.Context, key string, rule domain.Rule) (domain.Decision, error) {
	if c.breaker.State() != domain.Closed {
		if !c.fallbackEnabled {
			return failOpenDecision(rule), nil
		}
		entry, err := c.fallback.Current(ctx, key, rule)
		if err != nil {
			return domain.Decision{}, err
		}
		return buildDecision(entry, entry.Count < rule.MaxRequests, rule), nil
	}

	entry, err := c.primary.Current(ctx, key, rule)
	if err != nil {
		if !c.fallbackEnabled {
			return failOpenDecision(rule), nil
		}
		entry, err = c.fallback.Current(ctx, key, rule)
		if err != nil {
			return domain.Decision{}, err
		}
	}
	return buildDecision(entry, entry.Count < rule.MaxRequests, rule), nil
}

// Revert implements domain.Cache: it targets the primary store while the
// breaker is closed, falling back to the fallback store otherwise, mirroring
// which tier Check would have counted the original admission against.
func (c *Cache) Revert(ctx context.Context, key string, rule domain.Rule) error {
	if c.breaker.State() == domain.Closed {
		if err := c.primary.Revert(ctx, key, rule); err == nil {
			return nil
		}
	}
	if !c.fallbackEnabled {
		return nil
	}
	return c.fallback.Revert(ctx, key, rule)
}

// Reset implements domain.Cache: it clears the key in both tiers, since the
// administrative caller has no way to know which tier currently holds the
// live counter.
func (c *Cache) Reset(ctx context.Context, key string) error {
	primaryErr := c.primary.Reset(ctx, key)
	fallbackErr := c.fallback.Reset(ctx, key)
	if primaryErr != nil {
		return primaryErr
	}
	return fallbackErr
}

func buildDecision(entry domain.CounterEntry, allowed bool, rule domain.Rule) domain.Decision {
	remaining := rule.MaxRequests - entry.Count
	if remaining < 0 {
		remaining = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = time.Until(entry.ResetTime)
		if retryAfter < 0 {
			retryAfter = 0
		}
	}

	return domain.Decision{
		Allowed:           allowed,
		TotalRequests:     entry.Count,
		RemainingRequests: remaining,
		ResetTime:         entry.ResetTime,
		RetryAfter:        retryAfter,
		Rule:              rule,
	}
}

func failOpenDecision(rule domain.Rule) domain.Decision {
	return domain.Decision{
		Allowed:           true,
		TotalRequests:     0,
		RemainingRequests: rule.MaxRequests,
		ResetTime:         time.Now().Add(rule.Window),
		Rule:              rule,
	}
}
