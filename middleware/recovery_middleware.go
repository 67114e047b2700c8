package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// RecoveryMiddleware turns a panicking handler into an error so that the
// event loop serving the connection keeps running.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic",
						zap.String("service", inv.Service),
						zap.String("method", inv.Method),
						zap.Any("panic", r),
						zap.Stack("stack"))
					err = fmt.Errorf("panic in %s.%s: %v", inv.Service, inv.Method, r)
				}
			}()
			return next(ctx, inv)
		}
	}
}
