package domain

import "time"

// CounterEntry is the per (rule, client) state tracked by a Store.
//
// For the Sliding algorithm the canonical state lives in the store as an
// ordered set of per-request timestamps; Count here is the derived
// cardinality at the instant the entry was read. For Fixed, Count is the
// scalar counter for the currently aligned window.
type CounterEntry struct {
	Count     int
	ResetTime time.Time
	CreatedAt time.Time
}
