package middleware

import (
	"context"
	"fmt"

	"noc-rpc/protocol"
	"noc-rpc/registry"
)

// Recover turns a handler panic into an InternalError answer, keeping the server loop alive.
func Recover() Middleware {
	return func(next registry.Handler) registry.Handler {
		return func(ctx context.Context, req *registry.Request) (e error) {
			defer func() {
				if r := recover(); r != nil {
					e = fmt.Errorf("%w: panic: %v", protocol.ErrInternal, r)
				}
			}()
			return next(ctx, req)
		}
	}
}
