// Package middleware wraps registry handlers in the onion model:
//
//	Chain(A, B, C)(h) = A(B(C(h)))
//	A.before → B.before → C.before → h → C.after → B.after → A.after
package middleware

import "noc-rpc/registry"

// Middleware decorates a handler.
type Middleware func(next registry.Handler) registry.Handler

// Chain combines middlewares; the first one is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next registry.Handler) registry.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
