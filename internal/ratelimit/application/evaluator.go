// Package application holds the use cases of the rate-limit decision
// engine: evaluating a single rule against a request and composing the
// results of every configured rule into one decision, factored out of the
// HTTP middleware so it can be tested without a server.
package application

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"ratelimit-gateway/internal/ratelimit/domain"
	"ratelimit-gateway/internal/ratelimit/identifier"
	"ratelimit-gateway/internal/ratelimit/keyspace"
)

// Result pairs a rule's Decision with the key-space key it was checked
// under, so a later compensating Revert can target the exact counter an
// admission was recorded against.
type Result struct {
	Key      string
	Decision domain.Decision
}

// Inert reports whether this result's rule was skipped for the request.
func (r Result) Inert() bool { return r.Decision.Inert() }

// Evaluator evaluates domain.Rules against a request by extracting the
// client identifier, building the key-space key, and invoking the cache.
type Evaluator struct {
	cache domain.Cache
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(cache domain.Cache) *Evaluator {
	return &Evaluator{cache: cache}
}

// Evaluate checks a single rule against a request. A rule whose SkipFn
// matches the request returns the inert Result and is excluded from
// composition by the caller; otherwise it resolves the identifier (the
// rule's KeyFn if set, else the global extractor), builds the key-space
// key, and checks it against the cache.
func (e *Evaluator) Evaluate(ctx context.Context, req domain.Request, rule domain.Rule) (Result, error) {
	if rule.SkipFn != nil && rule.SkipFn.Skip(req) {
		return Result{Decision: domain.InertDecision()}, nil
	}

	id := e.resolveIdentifier(req, rule)
	ruleHash := keyspace.RuleHash(rule.ID, rule.Window.Nanoseconds(), rule.MaxRequests)
	key := keyspace.Build(rule.ID, ruleHash, id)

	decision, err := e.cache.Check(ctx, key, rule)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate rule %q: %w", rule.ID, err)
	}
	decision.Rule = rule
	return Result{Key: key, Decision: decision}, nil
}

func (e *Evaluator) resolveIdentifier(req domain.Request, rule domain.Rule) string {
	if rule.KeyFn != nil {
		return rule.KeyFn.Key(req)
	}
	return identifier.Extract(req, req.RemoteAddr)
}

// EvaluateAll evaluates every rule concurrently and returns only the
// non-inert results, in the same order rules were given so that
// composition's "first denial in configured order" rule is well defined.
func (e *Evaluator) EvaluateAll(ctx context.Context, req domain.Request, rules []domain.Rule) ([]Result, error) {
	results := make([]Result, len(rules))

	group, gctx := errgroup.WithContext(ctx)
	for i, rule := range rules {
		i, rule := i, rule
		group.Go(func() error {
			// A panic in a rule callback (KeyFn/SkipFn) is treated the
			// same way as an evaluation error: inert for this request.
			defer func() {
				if rec := recover(); rec != nil {
					results[i] = Result{Decision: domain.InertDecision()}
				}
			}()
			result, err := e.Evaluate(gctx, req, rule)
			if err != nil {
				// A rule evaluation error is treated as inert for this
				// request rather than aborting every other rule.
				results[i] = Result{Decision: domain.InertDecision()}
				return nil
			}
			results[i] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	nonInert := make([]Result, 0, len(results))
	for _, r := range results {
		if !r.Inert() {
			nonInert = append(nonInert, r)
		}
	}
	return nonInert, nil
}
