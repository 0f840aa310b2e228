// Package domain defines contracts and types for the rate-limit decision
// engine: rules, counters, decisions, and the ports (Store, Cache, Breaker)
// that the infra layer implements.
//
// This package depends on neither net/http nor github.com/redis/go-redis.
// That is deliberate: it lets the rule-evaluation and composition logic in
// application be unit tested without a transport or a Redis instance, and
// keeps infra swappable behind these interfaces.
package domain
