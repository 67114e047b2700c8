package client

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

var (
	ErrShutdown           = errors.New("client: connection is shut down")
	ErrNoSender           = errors.New("client: no send function")
	ErrRequestIDExhausted = errors.New("client: request ids exhausted")
	ErrCallTimeout        = errors.New("client: call timed out")
	ErrBadResponse        = errors.New("client: cannot parse response payload")
	ErrEncode             = errors.New("client: cannot encode request")
)

// ServerError is an error reported by the server in the response metadata.
type ServerError struct {
	Code    int32
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// MethodID identifies a remote method.
type MethodID struct {
	Service string // fully-qualified service name
	Method  string
}

func (m MethodID) String() string {
	return m.Service + "/" + m.Method
}

// Call represents one RPC issued through a Channel.
//
// Done receives the call exactly once, after Error has been set (nil on
// success, in which case Reply holds the parsed response).
type Call struct {
	ID     uint64
	Method MethodID
	Args   any        // request message
	Reply  any        // response placeholder, filled on success
	Error  error      // set before Done fires
	Done   chan *Call // completion sink

	timer           *time.Timer
	cancelRequested atomic.Bool
}

// StartCancel records a cancellation request. It is local only: nothing is
// sent to the server, and the call still completes (or stays pending) as if
// it had not been cancelled.
func (call *Call) StartCancel() {
	call.cancelRequested.Store(true)
}

// CancelRequested reports whether StartCancel was called.
func (call *Call) CancelRequested() bool {
	return call.cancelRequested.Load()
}

// done must be called by whoever removed the call from the pending table.
func (call *Call) done() bool {
	if call.timer != nil {
		call.timer.Stop()
	}
	select {
	case call.Done <- call:
		return true
	default:
		// Done is full; never block the network goroutine
		return false
	}
}
