package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ratelimit-gateway/internal/ratelimit/domain"
)

// RedisStatsStore is a domain.StatsStore persisting counters to Redis hashes
// so stats survive process restarts and are shared across gateway
// instances.
type RedisStatsStore struct {
	rdb *redis.Client

	prefix string
	// ttl only applies to time-bucketed / per-key entries; the running
	// total is cumulative and never expires.
	ttl time.Duration

	bucket string // "minute" (default) or "none"

	trackKeys bool
}

// RedisStatsOption configures a RedisStatsStore.
type RedisStatsOption func(*RedisStatsStore)

// WithStatsPrefix sets the Redis key prefix, default "ratelimit:stats".
func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

// WithStatsTTL sets how long per-minute and per-key entries are kept.
func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

// WithStatsBucket sets the time-bucketing granularity ("minute" or "none").
func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

// WithStatsTrackKeys enables per-identifier counters.
func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

// NewRedisStatsStore creates a RedisStatsStore.
func NewRedisStatsStore(rdb *redis.Client, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.StatsStore = (*RedisStatsStore)(nil)

// Record implements domain.StatsStore.
func (s *RedisStatsStore) Record(ctx context.Context, ev domain.DecisionEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	totalKey := s.prefix + ":total"

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, totalKey, field, 1)

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if ev.Method != "" || ev.Path != "" {
		routeKey := s.prefix + ":route"
		routeField := strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path))
		if routeField != "" {
			pipe.HIncrBy(ctx, routeKey, routeField+":"+field, 1)
		}
	}

	if s.trackKeys {
		k := strings.TrimSpace(ev.Key)
		if k != "" {
			keyKey := s.prefix + ":key:" + k
			pipe.HIncrBy(ctx, keyKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, keyKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// RecordQueueDepth implements domain.StatsStore, storing the latest depth
// snapshot per queue name as a Redis hash.
func (s *RedisStatsStore) RecordQueueDepth(ctx context.Context, q domain.QueueDepth) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	key := s.prefix + ":queue:" + q.Name
	err := s.rdb.HSet(ctx, key, map[string]interface{}{
		"waiting":   q.Waiting,
		"active":    q.Active,
		"completed": q.Completed,
		"failed":    q.Failed,
	}).Err()
	if err != nil {
		return fmt.Errorf("record queue depth: %w", err)
	}
	return nil
}
