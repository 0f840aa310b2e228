package domain

import "context"

// SlotPool represents a resource with finite capacity (e.g. concurrent
// connections).
//
// Acquire blocks until a slot is available or ctx is done. On success it
// returns a release function that must be called exactly once.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
