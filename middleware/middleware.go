// Package middleware wraps the server-side method invocation.
//
// Middlewares form an onion around the handler:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//	A.before → B.before → C.before → handler → C.after → B.after → A.after
//
// They see the decoded request and the response the handler fills in place,
// never the wire bytes.
package middleware

import (
	"context"
	"errors"
)

// Invocation describes one server-side method call.
type Invocation struct {
	Service   string
	Method    string
	RequestID uint64
	Remote    string // peer address, empty when unknown
	Request   any    // parsed request
	Response  any    // filled in place by the handler
}

type HandlerFunc func(ctx context.Context, inv *Invocation) error

type Middleware func(next HandlerFunc) HandlerFunc

var (
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrHandlerTimeout = errors.New("handler timed out")
)

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
