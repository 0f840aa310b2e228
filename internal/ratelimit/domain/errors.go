package domain

import "errors"

var (
	// ErrEmptyKey is returned by a Store/Cache call made with an empty key.
	ErrEmptyKey = errors.New("ratelimit: empty key")
	// ErrInvalidRule is returned when a Rule fails basic validation
	// (empty ID, non-positive window or non-positive max requests).
	ErrInvalidRule = errors.New("ratelimit: invalid rule")
	// ErrBreakerOpen is returned by a Breaker when it refuses to run primary
	// and no fallback was supplied.
	ErrBreakerOpen = errors.New("ratelimit: circuit breaker open")
	// ErrStoreUnavailable wraps a transport-level failure from a Store.
	ErrStoreUnavailable = errors.New("ratelimit: store unavailable")
)

// Validate reports whether r is a well-formed Rule.
func (r Rule) Validate() error {
	if r.ID == "" {
		return ErrInvalidRule
	}
	if r.Window <= 0 {
		return ErrInvalidRule
	}
	if r.MaxRequests <= 0 {
		return ErrInvalidRule
	}
	return nil
}
