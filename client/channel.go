// Package client implements the calling side of pbrpc.
//
// A Channel turns method invocations into request envelopes, keeps every
// in-flight call in a pending table keyed by request id, and completes the
// call when the response with the same id comes back. Responses may arrive in
// any order.
//
//	goroutine-1 ──Go(id=1)──┐
//	goroutine-2 ──Go(id=2)──┼──→ send ──→ server
//	goroutine-3 ──Go(id=3)──┘
//
//	OnMessage: ←── response(id=2) → pending[2] removed → call.Done ← call
package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"pbrpc/codec"
	"pbrpc/logger"
	"pbrpc/message"
	"pbrpc/protocol"
)

// SendFunc hands a fully framed request to the network.
type SendFunc func(data []byte) error

// Channel correlates requests and responses over one connection.
type Channel struct {
	sendFn      SendFunc
	codec       codec.Codec
	callTimeout time.Duration
	logger      *zap.Logger

	mu      sync.Mutex // protects following
	seq     uint64     // last issued request id, ids start at 1
	pending map[uint64]*Call
	closed  bool
}

// NewChannel creates a channel that writes requests through send.
// A nil send makes every call fail immediately with ErrNoSender.
func NewChannel(send SendFunc, opts ...Option) *Channel {
	o := buildOptions(opts)
	return &Channel{
		sendFn:      send,
		codec:       codec.GetCodec(o.codecType),
		callTimeout: o.callTimeout,
		logger:      o.logger,
		pending:     make(map[uint64]*Call),
	}
}

// Go issues the call asynchronously and returns it. The call is delivered on
// done exactly once; a nil done allocates a channel with capacity 1. Go panics
// if done is unbuffered, and a done shared by several calls needs room for all
// of them.
func (ch *Channel) Go(method MethodID, args, reply any, done chan *Call) *Call {
	if done == nil {
		done = make(chan *Call, 1)
	} else if cap(done) == 0 {
		// Completions are sent without blocking the read loop
		panic("client: done channel is unbuffered")
	}
	call := &Call{
		Method: method,
		Args:   args,
		Reply:  reply,
		Done:   done,
	}
	ch.issue(call)
	return call
}

// Call issues the call and waits for it. If ctx ends first, Call returns
// ctx.Err(); the request is not withdrawn and its pending entry stays until
// the response arrives, the call times out or the channel is closed.
func (ch *Channel) Call(ctx context.Context, method MethodID, args, reply any) error {
	call := ch.Go(method, args, reply, make(chan *Call, 1))
	select {
	case <-call.Done:
		return call.Error
	case <-ctx.Done():
		call.StartCancel()
		return ctx.Err()
	}
}

func (ch *Channel) issue(call *Call) {
	if ch.sendFn == nil {
		ch.fail(call, ErrNoSender)
		return
	}

	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		ch.fail(call, ErrShutdown)
		return
	}
	if ch.seq == math.MaxUint64 {
		ch.mu.Unlock()
		ch.fail(call, ErrRequestIDExhausted)
		return
	}
	ch.seq++
	call.ID = ch.seq
	ch.mu.Unlock()

	meta := &message.RPCMeta{
		ServiceName: call.Method.Service,
		MethodName:  call.Method.Method,
		RequestID:   call.ID,
		IsRequest:   true,
	}
	frame, err := codec.EncodeFrame(meta, call.Args, ch.codec)
	if err != nil {
		ch.fail(call, fmt.Errorf("%w: %w", ErrEncode, err))
		return
	}

	// Register BEFORE sending: the response may be processed before send returns
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		ch.fail(call, ErrShutdown)
		return
	}
	ch.pending[call.ID] = call
	if ch.callTimeout > 0 {
		id := call.ID
		call.timer = time.AfterFunc(ch.callTimeout, func() { ch.expire(id) })
	}
	ch.mu.Unlock()

	if err := ch.sendFn(protocol.AddLengthPrefix(frame)); err != nil {
		if c := ch.remove(call.ID); c != nil {
			ch.fail(c, fmt.Errorf("client: send: %w", err))
		}
	}
}

// OnMessage processes one response frame. It is driven by the transport's
// read loop; every failure is logged and dropped.
func (ch *Channel) OnMessage(frame []byte) {
	msg, err := codec.DecodeFrame(frame)
	if err != nil {
		ch.logger.Warn("drop undecodable frame", zap.Error(err))
		return
	}

	meta := &msg.Meta
	if meta.IsRequest {
		// This channel only originates requests
		ch.logger.Warn("drop request frame received on client channel",
			zap.String("service", meta.ServiceName),
			zap.String("method", meta.MethodName),
			zap.Uint64("request_id", meta.RequestID))
		return
	}

	call := ch.remove(meta.RequestID)
	if call == nil {
		ch.logger.Warn("drop response for unknown request id", zap.Uint64("request_id", meta.RequestID))
		return
	}

	switch {
	case meta.ErrorCode != message.CodeOK:
		call.Error = &ServerError{Code: meta.ErrorCode, Message: meta.ErrorMsg}
	case call.Reply != nil:
		if err := ch.codec.Decode(msg.Payload, call.Reply); err != nil {
			call.Error = fmt.Errorf("%w: %w", ErrBadResponse, err)
		}
	}
	ch.complete(call)
}

// Close fails every pending call with err (ErrShutdown if nil) and makes
// later calls fail with ErrShutdown. It is called when the connection is lost.
func (ch *Channel) Close(err error) {
	if err == nil || errors.Is(err, ErrShutdown) {
		err = ErrShutdown
	} else {
		err = fmt.Errorf("%w: %w", ErrShutdown, err)
	}

	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	pending := ch.pending
	ch.pending = make(map[uint64]*Call)
	ch.mu.Unlock()

	for _, call := range pending {
		call.Error = err
		ch.complete(call)
	}
}

// Pending reports the number of calls waiting for a response.
func (ch *Channel) Pending() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.pending)
}

func (ch *Channel) remove(id uint64) *Call {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	call, ok := ch.pending[id]
	if !ok {
		return nil
	}
	delete(ch.pending, id)
	return call
}

func (ch *Channel) expire(id uint64) {
	if call := ch.remove(id); call != nil {
		call.Error = ErrCallTimeout
		ch.complete(call)
	}
}

func (ch *Channel) fail(call *Call, err error) {
	call.Error = err
	ch.complete(call)
}

func (ch *Channel) complete(call *Call) {
	if !call.done() {
		ch.logger.Warn("discarding call completion, done channel has no capacity",
			zap.Uint64("request_id", call.ID),
			zap.Stringer("method", call.Method))
	}
}

// options shared by Channel and Client.
type options struct {
	codecType    codec.CodecType
	callTimeout  time.Duration
	maxFrameSize uint32
	writeTimeout time.Duration
	baseLogger   *zap.Logger // as given, handed to the transport
	logger       *zap.Logger
}

type Option func(*options)

func WithCodec(t codec.CodecType) Option {
	return func(o *options) { o.codecType = t }
}

// WithCallTimeout fails calls that get no response within d. 0 disables.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithMaxFrameSize bounds response frames read by a Client; 0 disables.
func WithMaxFrameSize(n uint32) Option {
	return func(o *options) { o.maxFrameSize = n }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{
		codecType:    codec.CodecTypeProto,
		maxFrameSize: protocol.DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.L()
	}
	o.baseLogger = o.logger
	o.logger = o.logger.With(zap.String("module", "client"))
	return o
}
