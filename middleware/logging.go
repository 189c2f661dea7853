package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"noc-rpc/codec"
	"noc-rpc/registry"
)

// Logging logs each command at Debug level and each failure at Warn level, with latency.
// names may be nil; it is used to print subtype names.
func Logging(logger *zap.Logger, names *registry.Registry) Middleware {
	return func(next registry.Handler) registry.Handler {
		return func(ctx context.Context, req *registry.Request) error {
			start := time.Now()
			err := next(ctx, req)

			fields := []zap.Field{
				zap.Int("sender", int(req.Sender)),
				zap.Stringer("class", req.Msg.Class),
				zap.Uint8("subtype", uint8(req.Msg.Subtype)),
				zap.Duration("latency", time.Since(start)),
			}
			if names != nil {
				fields = append(fields, zap.String("cmd", names.SubtypeName(req.Msg.Class, req.Msg.Subtype)))
			}
			switch {
			case err != nil:
				logger.Warn("handler error", append(fields, zap.Error(err))...)
			case req.Answer.Flags.ErrStr():
				logger.Info("command refused", append(fields, zap.String("reason", codec.ErrorString(req.Answer)))...)
			default:
				logger.Debug("command served", append(fields, zap.Uint8("status", codec.Status(req.Answer)))...)
			}
			return err
		}
	}
}
