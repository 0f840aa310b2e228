package domain

import "time"

// Decision is the outcome of evaluating one Rule against one request.
type Decision struct {
	Allowed           bool
	TotalRequests     int
	RemainingRequests int
	ResetTime         time.Time
	// RetryAfter is only meaningful when Allowed is false.
	RetryAfter time.Duration
	Rule       Rule
}

// Inert reports whether this decision should be excluded from composition
// because its rule's SkipFn matched the request. A zero-value Rule.ID marks
// an inert decision.
func (d Decision) Inert() bool { return d.Rule.ID == "" }

// InertDecision is the sentinel result for a skipped rule.
func InertDecision() Decision { return Decision{} }
