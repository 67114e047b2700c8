package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	logger = logger.With(zap.String("module", "rpc"))
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) error {
			start := time.Now()
			err := next(ctx, inv)
			fields := []zap.Field{
				zap.String("service", inv.Service),
				zap.String("method", inv.Method),
				zap.Uint64("request_id", inv.RequestID),
				zap.String("remote", inv.Remote),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("rpc failed", append(fields, zap.Error(err))...)
				return err
			}
			logger.Debug("rpc handled", fields...)
			return nil
		}
	}
}
