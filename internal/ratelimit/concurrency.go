package ratelimit

import (
	"context"
	"net/http"
	"time"

	"ratelimit-gateway/internal/ratelimit/infra/concurrency"
)

// ConcurrencyOptions bounds how many requests a handler serves at once,
// independent of the rate-limit decision engine: a defense-in-depth cap on
// in-flight work protecting whatever sits behind the gateway.
type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
}

// ConcurrencyMiddleware wraps next with a bounded pool of opts.Max
// concurrent slots. A request that cannot acquire a slot within
// AcquireTimeout receives RejectStatus instead of being served.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}

	pool := concurrency.NewChanPool(opts.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if opts.AcquireTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.AcquireTimeout)
				defer cancel()
			}

			release, ok := pool.Acquire(ctx)
			if !ok {
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
