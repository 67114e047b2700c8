package middleware

import (
	"context"
	"time"
)

// TimeOutMiddleware puts a deadline on the handler's context. Handlers run
// synchronously and fill the response in place, so the deadline is
// cooperative: a handler that returns after it has passed gets ErrHandlerTimeout.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			err := next(ctx, inv)
			if err == nil && ctx.Err() != nil {
				return ErrHandlerTimeout
			}
			return err
		}
	}
}
