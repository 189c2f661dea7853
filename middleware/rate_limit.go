package middleware

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"noc-rpc/protocol"
	"noc-rpc/registry"
)

// RateLimit admits at most r commands per second with the given burst, using a token bucket.
// Refused commands fail with InternalError without reaching the handler.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next registry.Handler) registry.Handler {
		return func(ctx context.Context, req *registry.Request) error {
			if !limiter.Allow() {
				return fmt.Errorf("%w: rate limit exceeded", protocol.ErrInternal)
			}
			return next(ctx, req)
		}
	}
}
