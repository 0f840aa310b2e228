// Package ratelimit is the HTTP composer: it wraps a handler, evaluates the
// configured rules against each request, sets the advisory and defensive
// headers, denies or forwards the request, and on response completion
// conditionally enqueues a compensating revert.
//
// Its shape is an Options struct consumed by a Middleware constructor
// returning func(http.Handler) http.Handler, generalized to evaluate and
// compose across multiple rules rather than a single key/store pair.
package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"ratelimit-gateway/internal/ratelimit/application"
	"ratelimit-gateway/internal/ratelimit/domain"
	"ratelimit-gateway/internal/ratelimit/identifier"
	"ratelimit-gateway/internal/ratelimit/infra/queue"
	"ratelimit-gateway/internal/ratelimit/infra/throttle"
)

// Options configures the rate-limit middleware.
type Options struct {
	Rules []domain.Rule
	Cache domain.Cache
	Stats domain.StatsStore

	// Throttle, when set, applies the local smoothing delay before rules
	// are evaluated.
	Throttle *throttle.Throttle

	// RevertQueue, when set, routes post-response reverts through the
	// operations queue instead of firing them directly.
	RevertQueue *queue.Operations

	StandardHeaders        bool
	LegacyHeaders          bool
	SkipSuccessfulRequests bool
	SkipFailedRequests     bool

	OnLimitReached LimitReachedFunc
	Logger         *zap.Logger
}

// DefaultOptions returns Options with sensible defaults: standard and
// legacy headers both on, skip-on-status semantics off.
func DefaultOptions(rules []domain.Rule, cache domain.Cache) Options {
	return Options{
		Rules:           rules,
		Cache:           cache,
		StandardHeaders: true,
		LegacyHeaders:   true,
	}
}

// Middleware builds the rate-limit composer described by opts.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.OnLimitReached == nil {
		opts.OnLimitReached = defaultOnLimitReached
	}

	evaluator := application.NewEvaluator(opts.Cache)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			setDefensiveHeaders(w)

			req := toDomainRequest(r)

			if opts.Throttle != nil {
				id := identifier.Extract(req, req.RemoteAddr)
				opts.Throttle.Wait(r.Context(), id)
			}

			results, err := evaluateSafely(r.Context(), evaluator, req, opts.Rules, opts.Logger)
			if err != nil {
				// A composer error before a decision is reached fails open.
				next.ServeHTTP(w, r)
				return
			}

			winner := application.Compose(results)
			if winner.Inert() {
				next.ServeHTTP(w, r)
				return
			}

			setDecisionHeaders(w, winner.Decision, opts.LegacyHeaders, opts.StandardHeaders)
			recordDecision(r, opts.Stats, winner)

			if !winner.Decision.Allowed {
				opts.OnLimitReached(w, r, winner.Decision)
				return
			}

			sw := &statusCapturingWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			if opts.SkipSuccessfulRequests || opts.SkipFailedRequests {
				status := sw.Status()
				shouldRevert := (opts.SkipSuccessfulRequests && status >= 200 && status < 300) ||
					(opts.SkipFailedRequests && status >= 400)
				if shouldRevert {
					for _, result := range results {
						if result.Decision.Allowed {
							enqueueRevert(opts, result)
						}
					}
				}
			}
		})
	}
}

func toDomainRequest(r *http.Request) domain.Request {
	return domain.Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		Header:     map[string][]string(r.Header),
	}
}

// evaluateSafely runs EvaluateAll, converting a panic in that pre-decision
// phase into a fail-open error instead of crashing the request goroutine.
func evaluateSafely(ctx context.Context, evaluator *application.Evaluator, req domain.Request, rules []domain.Rule, logger *zap.Logger) (results []application.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("composer pre-decision phase panicked, failing open", zap.Any("panic", rec))
			err = errComposerFailure
		}
	}()
	return evaluator.EvaluateAll(ctx, req, rules)
}

var errComposerFailure = errors.New("rate limit composer failed before a decision")

func recordDecision(r *http.Request, stats domain.StatsStore, result application.Result) {
	if stats == nil {
		return
	}
	_ = stats.Record(r.Context(), domain.DecisionEvent{
		Key:     result.Key,
		RuleID:  result.Decision.Rule.ID,
		Allowed: result.Decision.Allowed,
		Method:  r.Method,
		Path:    r.URL.Path,
		At:      time.Now(),
	})
}

func enqueueRevert(opts Options, result application.Result) {
	if opts.RevertQueue != nil {
		job := queue.Job{
			Kind:        queue.JobRevert,
			Key:         result.Key,
			RuleID:      result.Decision.Rule.ID,
			Window:      result.Decision.Rule.Window,
			MaxRequests: result.Decision.Rule.MaxRequests,
			Algorithm:   result.Decision.Rule.Algorithm,
		}
		if err := opts.RevertQueue.Enqueue(context.Background(), job); err != nil {
			opts.Logger.Error("enqueue revert failed", zap.String("key", result.Key), zap.Error(err))
		}
		return
	}

	go func() {
		if err := opts.Cache.Revert(context.Background(), result.Key, result.Decision.Rule); err != nil {
			opts.Logger.Error("revert failed", zap.String("key", result.Key), zap.Error(err))
		}
	}()
}
