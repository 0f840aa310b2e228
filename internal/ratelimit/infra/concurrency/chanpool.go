package concurrency

import (
	"context"

	"ratelimit-gateway/internal/ratelimit/domain"
)

type chanPool struct {
	sem chan struct{}
}

// NewChanPool creates a channel-backed pool with capacity max, bounding how
// many concurrent slots (e.g. in-flight proxied requests) are allowed at
// once.
func NewChanPool(max int) domain.SlotPool {
	return &chanPool{sem: make(chan struct{}, max)}
}

func (p *chanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	case <-ctx.Done():
		return nil, false
	}
}
