// Package queue implements the maintenance pipeline: an operations queue
// for {INCREMENT, RESET, CLEANUP, REVERT} jobs with retry and backoff, and
// a periodic cleanup queue running against the key pattern `rl:*`.
//
// The operations queue is built on a Redis sorted set used as a delay
// queue (score = ready-at timestamp); the periodic queue reuses the same
// ticker-goroutine-over-context janitor shape as infra/memstore.StartJanitor
// and infra/throttle.StartJanitor, at cron-like granularity instead of a
// sweep.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ratelimit-gateway/internal/ratelimit/domain"
)

// JobKind tags what an operations-queue message asks the store to do.
type JobKind string

const (
	JobIncrement JobKind = "INCREMENT"
	JobReset     JobKind = "RESET"
	JobCleanup   JobKind = "CLEANUP"
	// JobRevert carries the middleware composer's post-response
	// compensating action through the same retry/backoff machinery as the
	// other operations, rather than reverting synchronously on the request
	// goroutine.
	JobRevert JobKind = "REVERT"
)

// Job is one operations-queue message. Window/MaxRequests/Algorithm are
// carried alongside RuleID so a REVERT or RESET job can rebuild the
// domain.Rule a store needs without a lookup back into live configuration —
// the queue may drain well after the rule set that produced the job was
// last loaded.
type Job struct {
	Kind    JobKind `json:"kind"`
	Key     string  `json:"key"`
	RuleID  string  `json:"rule_id,omitempty"`
	Pattern string  `json:"pattern,omitempty"`

	Window      time.Duration    `json:"window,omitempty"`
	MaxRequests int              `json:"max_requests,omitempty"`
	Algorithm   domain.Algorithm `json:"algorithm,omitempty"`

	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	ReadyAt    time.Time `json:"ready_at"`
}

// Rule rebuilds the domain.Rule this job's revert/reset targets.
func (j Job) Rule() domain.Rule {
	return domain.Rule{ID: j.RuleID, Window: j.Window, MaxRequests: j.MaxRequests, Algorithm: j.Algorithm}
}

// Handler processes one Job. Returning an error causes a retry (up to
// maxAttempts) with exponential backoff.
type Handler func(ctx context.Context, job Job) error

const (
	defaultMaxAttempts    = 3
	defaultBackoffBase    = 2 * time.Second
	defaultCompletedLimit = 10
	defaultFailedLimit    = 5
)

// Operations is the operations queue: a Redis-backed delay queue of Jobs,
// retried with exponential backoff and capped retained history.
type Operations struct {
	client *redis.Client
	key    string

	maxAttempts    int
	backoffBase    time.Duration
	completedLimit int
	failedLimit    int

	logger *zap.Logger

	completed *ring
	failed    *ring
}

// OperationsOption configures an Operations queue.
type OperationsOption func(*Operations)

// WithMaxAttempts overrides the retry ceiling, default 3.
func WithMaxAttempts(n int) OperationsOption {
	return func(o *Operations) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithBackoffBase overrides the first retry delay, default 2s; subsequent
// retries double it.
func WithBackoffBase(d time.Duration) OperationsOption {
	return func(o *Operations) {
		if d > 0 {
			o.backoffBase = d
		}
	}
}

// WithRetainedHistory overrides how many completed/failed jobs are kept for
// inspection, defaults 10/5.
func WithRetainedHistory(completed, failed int) OperationsOption {
	return func(o *Operations) {
		if completed > 0 {
			o.completedLimit = completed
		}
		if failed > 0 {
			o.failedLimit = failed
		}
	}
}

// WithOperationsLogger attaches a logger.
func WithOperationsLogger(logger *zap.Logger) OperationsOption {
	return func(o *Operations) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOperations creates an Operations queue backed by client, storing
// pending jobs under the given Redis sorted-set key.
func NewOperations(client *redis.Client, key string, opts ...OperationsOption) *Operations {
	o := &Operations{
		client:         client,
		key:            key,
		maxAttempts:    defaultMaxAttempts,
		backoffBase:    defaultBackoffBase,
		completedLimit: defaultCompletedLimit,
		failedLimit:    defaultFailedLimit,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.completed = newRing(o.completedLimit)
	o.failed = newRing(o.failedLimit)
	return o
}

// Enqueue adds job to the queue, ready immediately unless job.ReadyAt is
// set, as run does to delay a retry by its backoff. No caller in this module
// enqueues a delayed CLEANUP job when a request is denied.
func (o *Operations) Enqueue(ctx context.Context, job Job) error {
	job.EnqueuedAt = time.Now()
	if job.ReadyAt.IsZero() {
		job.ReadyAt = job.EnqueuedAt
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	member := redis.Z{Score: float64(job.ReadyAt.UnixMilli()), Member: payload}
	if err := o.client.ZAdd(ctx, o.key, member).Err(); err != nil {
		// Enqueue failures are logged, not propagated to the
		// request path; the periodic cleanup queue is the backstop.
		o.logger.Error("enqueue failed", zap.String("kind", string(job.Kind)), zap.Error(err))
		return err
	}
	return nil
}

// Drain pops every job whose ReadyAt has passed and runs handler against
// each, retrying with exponential backoff up to maxAttempts before moving
// the job to the failed history.
func (o *Operations) Drain(ctx context.Context, handler Handler) (processed int, err error) {
	now := time.Now()
	raw, err := o.client.ZRangeByScore(ctx, o.key, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan ready jobs: %w", err)
	}

	for _, raw := range raw {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			o.logger.Error("drop malformed job", zap.Error(err))
			_ = o.client.ZRem(ctx, o.key, raw).Err()
			continue
		}

		if err := o.client.ZRem(ctx, o.key, raw).Err(); err != nil {
			continue
		}

		o.run(ctx, job, handler)
		processed++
	}

	return processed, nil
}

func (o *Operations) run(ctx context.Context, job Job, handler Handler) {
	err := handler(ctx, job)
	if err == nil {
		o.completed.push(job)
		return
	}

	job.Attempts++
	if job.Attempts >= o.maxAttempts {
		o.logger.Warn("job exhausted retries", zap.String("kind", string(job.Kind)), zap.Int("attempts", job.Attempts), zap.Error(err))
		o.failed.push(job)
		return
	}

	backoff := o.backoffBase << uint(job.Attempts-1)
	job.ReadyAt = time.Now().Add(backoff)
	if enqueueErr := o.Enqueue(ctx, job); enqueueErr != nil {
		o.failed.push(job)
	}
}

// Depth reports the queue's current waiting count plus bounded
// completed/failed history, for the admin stats surface.
func (o *Operations) Depth(ctx context.Context) (domain.QueueDepth, error) {
	waiting, err := o.client.ZCard(ctx, o.key).Result()
	if err != nil {
		return domain.QueueDepth{}, fmt.Errorf("queue depth: %w", err)
	}
	return domain.QueueDepth{
		Name:      o.key,
		Waiting:   int(waiting),
		Completed: o.completed.len(),
		Failed:    o.failed.len(),
	}, nil
}
