// Package redisstore implements the distributed counter store: atomic
// sliding-window and fixed-window check-and-increment over Redis, using
// server-side Lua scripts as the transactional primitive, embedded at
// build time and run via EVALSHA with an EVAL fallback. The sliding window
// is a ZADD/ZREMRANGEBYSCORE/ZCARD log of request timestamps per key.
package redisstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ratelimit-gateway/internal/ratelimit/domain"
)

//go:embed sliding.lua
var slidingScriptSource string

//go:embed sliding_revert.lua
var slidingRevertScriptSource string

//go:embed fixed.lua
var fixedScriptSource string

//go:embed fixed_revert.lua
var fixedRevertScriptSource string

const (
	modeCheckAndIncrement = 1
	modeCurrent           = 0
)

// Store is a domain.Store backed by Redis. It is safe for concurrent use; a
// single Store is intended to be shared process-wide, typically wrapping a
// *redis.Client configured with a connection pool.
type Store struct {
	client *redis.Client

	slidingScript       *redis.Script
	slidingRevertScript *redis.Script
	fixedScript         *redis.Script
	fixedRevertScript   *redis.Script
}

// New wraps client with the atomic sliding/fixed window scripts.
func New(client *redis.Client) *Store {
	return &Store{
		client:              client,
		slidingScript:       redis.NewScript(slidingScriptSource),
		slidingRevertScript: redis.NewScript(slidingRevertScriptSource),
		fixedScript:         redis.NewScript(fixedScriptSource),
		fixedRevertScript:   redis.NewScript(fixedRevertScriptSource),
	}
}

var _ domain.Store = (*Store)(nil)

// CheckAndIncrement implements domain.Store.
//
// A Sliding rule whose script call errors falls through to the Fixed
// algorithm against the same key on the same Redis store before the caller
// (the cache layer) falls all the way through to the in-memory fallback.
func (s *Store) CheckAndIncrement(ctx context.Context, key string, rule domain.Rule) (domain.CounterEntry, bool, error) {
	if key == "" {
		return domain.CounterEntry{}, false, domain.ErrEmptyKey
	}

	now := time.Now()

	if rule.Algorithm == domain.Sliding {
		entry, allowed, err := s.runSliding(ctx, key, rule, now, modeCheckAndIncrement)
		if err == nil {
			return entry, allowed, nil
		}
		entry, allowed, fixedErr := s.runFixed(ctx, key, rule, now, modeCheckAndIncrement)
		if fixedErr == nil {
			return entry, allowed, nil
		}
		return domain.CounterEntry{}, false, fmt.Errorf("%w: sliding: %v, fixed fallthrough: %v", domain.ErrStoreUnavailable, err, fixedErr)
	}

	entry, allowed, err := s.runFixed(ctx, key, rule, now, modeCheckAndIncrement)
	if err != nil {
		return domain.CounterEntry{}, false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return entry, allowed, nil
}

// Current implements domain.Store.
func (s *Store) Current(ctx context.Context, key string, rule domain.Rule) (domain.CounterEntry, error) {
	if key == "" {
		return domain.CounterEntry{}, domain.ErrEmptyKey
	}
	now := time.Now()

	if rule.Algorithm == domain.Sliding {
		entry, _, err := s.runSliding(ctx, key, rule, now, modeCurrent)
		if err == nil {
			return entry, nil
		}
		entry, _, fixedErr := s.runFixed(ctx, key, rule, now, modeCurrent)
		if fixedErr == nil {
			return entry, nil
		}
		return domain.CounterEntry{}, fmt.Errorf("%w: sliding: %v, fixed fallthrough: %v", domain.ErrStoreUnavailable, err, fixedErr)
	}

	entry, _, err := s.runFixed(ctx, key, rule, now, modeCurrent)
	if err != nil {
		return domain.CounterEntry{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return entry, nil
}

// Revert implements domain.Store.
func (s *Store) Revert(ctx context.Context, key string, rule domain.Rule) error {
	if key == "" {
		return domain.ErrEmptyKey
	}
	now := time.Now()

	if rule.Algorithm == domain.Sliding {
		nowMillis := now.UnixMilli()
		windowMillis := rule.Window.Milliseconds()
		_, err := s.slidingRevertScript.Run(ctx, s.client, []string{key}, nowMillis, windowMillis).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		return nil
	}

	_, err := s.fixedRevertScript.Run(ctx, s.client, []string{key}).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Reset implements domain.Store.
func (s *Store) Reset(ctx context.Context, key string) error {
	if key == "" {
		return domain.ErrEmptyKey
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Cleanup implements domain.Store. It scans keys matching pattern and
// deletes any whose counter is currently exhausted of live state (an empty
// sorted set or a zero-count hash), relying on TTL for the common case and
// only doing extra work for keys a client abandoned mid-window.
func (s *Store) Cleanup(ctx context.Context, pattern string) (int, error) {
	var cursor uint64
	deleted := 0

	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}

		for _, key := range keys {
			exhausted, err := s.isExhausted(ctx, key)
			if err != nil {
				continue
			}
			if exhausted {
				if err := s.client.Del(ctx, key).Err(); err == nil {
					deleted++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}

func (s *Store) isExhausted(ctx context.Context, key string) (bool, error) {
	keyType, err := s.client.Type(ctx, key).Result()
	if err != nil {
		return false, err
	}
	switch keyType {
	case "zset":
		card, err := s.client.ZCard(ctx, key).Result()
		if err != nil {
			return false, err
		}
		return card == 0, nil
	case "hash":
		count, err := s.client.HGet(ctx, key, "count").Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return false, err
		}
		return count == 0, nil
	default:
		return false, nil
	}
}

func (s *Store) runSliding(ctx context.Context, key string, rule domain.Rule, now time.Time, mode int) (domain.CounterEntry, bool, error) {
	windowMillis := rule.Window.Milliseconds()
	nowMillis := now.UnixMilli()

	result, err := s.slidingScript.Run(ctx, s.client, []string{key}, windowMillis, rule.MaxRequests, nowMillis, mode).Result()
	if err != nil {
		return domain.CounterEntry{}, false, err
	}
	return parseScriptResult(result, now)
}

func (s *Store) runFixed(ctx context.Context, key string, rule domain.Rule, now time.Time, mode int) (domain.CounterEntry, bool, error) {
	windowMillis := rule.Window.Milliseconds()
	nowMillis := now.UnixMilli()

	result, err := s.fixedScript.Run(ctx, s.client, []string{key}, windowMillis, rule.MaxRequests, nowMillis, mode).Result()
	if err != nil {
		return domain.CounterEntry{}, false, err
	}
	return parseScriptResult(result, now)
}

func parseScriptResult(result interface{}, now time.Time) (domain.CounterEntry, bool, error) {
	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return domain.CounterEntry{}, false, fmt.Errorf("unexpected script result: %#v", result)
	}

	count, err := toInt64(values[0])
	if err != nil {
		return domain.CounterEntry{}, false, err
	}
	resetMillis, err := toInt64(values[1])
	if err != nil {
		return domain.CounterEntry{}, false, err
	}
	allowedFlag, err := toInt64(values[2])
	if err != nil {
		return domain.CounterEntry{}, false, err
	}

	entry := domain.CounterEntry{
		Count:     int(count),
		ResetTime: time.UnixMilli(resetMillis),
		CreatedAt: now,
	}
	return entry, allowedFlag == 1, nil
}

func toInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case string:
		var n int64
		_, err := fmt.Sscanf(t, "%d", &n)
		return n, err
	default:
		return 0, fmt.Errorf("unexpected value type %T", v)
	}
}
