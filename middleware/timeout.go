package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"noc-rpc/cycles"
	"noc-rpc/protocol"
	"noc-rpc/registry"
)

// Budget runs the handler with a deadline of budget cycles at freq. The handler is never
// preempted: it should check ctx in long loops and return ctx.Err() before committing
// any state, which is answered as a Timeout. A handler that completes keeps its answer
// even past the deadline; the overrun is only logged.
func Budget(budget uint64, freq cycles.Freq) Middleware {
	d := freq.Duration(budget)
	return func(next registry.Handler) registry.Handler {
		return func(ctx context.Context, req *registry.Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			t0 := time.Now()
			err := next(ctx, req)
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w: handler exceeded %d cycles", protocol.ErrTimeout, budget)
			}
			if ctx.Err() != nil {
				logger.Warn("handler over budget",
					zap.Int("sender", int(req.Sender)),
					zap.Stringer("class", req.Msg.Class),
					zap.Uint64("budget", budget),
					zap.Uint64("cycles", freq.Cycles(time.Since(t0))),
				)
			}
			return err
		}
	}
}
