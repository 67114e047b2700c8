package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"pbrpc/codec"
	"pbrpc/logger"
	"pbrpc/message"
	"pbrpc/middleware"
	"pbrpc/protocol"
	"pbrpc/service"
	"pbrpc/transport"
)

var ErrServiceExists = errors.New("server: service already registered")

// Dispatcher resolves request frames to registered methods and answers them.
//
// Request processing pipeline, run on the event loop that owns the connection:
//
//	DecodeFrame → service lookup → method lookup → Codec.Decode(req)
//	  → Middleware Chain → MethodDesc.Handler (fills resp) → EncodeFrame → conn.Send
//
// Lookup and parse failures, and calls a middleware refuses before the method
// runs, are dropped with a log line unless error replies are enabled, in which
// case the caller gets an error envelope.
type Dispatcher struct {
	codec        codec.Codec
	errorReplies bool
	logger       *zap.Logger

	mu          sync.RWMutex
	services    map[string]*service.ServiceDesc // "demo.EchoService" → desc
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(invoke)))
}

type dispatcherOptions struct {
	codecType    codec.CodecType
	errorReplies bool
	middlewares  []middleware.Middleware
	logger       *zap.Logger
}

type DispatcherOption func(*dispatcherOptions)

func WithCodec(t codec.CodecType) DispatcherOption {
	return func(o *dispatcherOptions) { o.codecType = t }
}

// WithErrorReplies makes the dispatcher answer failed requests with an error
// envelope instead of dropping them.
func WithErrorReplies(enabled bool) DispatcherOption {
	return func(o *dispatcherOptions) { o.errorReplies = enabled }
}

func WithMiddleware(mws ...middleware.Middleware) DispatcherOption {
	return func(o *dispatcherOptions) { o.middlewares = append(o.middlewares, mws...) }
}

func WithLogger(l *zap.Logger) DispatcherOption {
	return func(o *dispatcherOptions) { o.logger = l }
}

func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	o := dispatcherOptions{codecType: codec.CodecTypeProto}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.L()
	}

	d := &Dispatcher{
		codec:        codec.GetCodec(o.codecType),
		errorReplies: o.errorReplies,
		logger:       o.logger.With(zap.String("module", "dispatcher")),
		services:     make(map[string]*service.ServiceDesc),
	}
	d.Use(o.middlewares...)
	return d
}

// RegisterService adds desc under desc.Name. A second registration under the
// same name is logged and rejected; the first one stays in place.
// Register services before the server starts handling traffic.
func (d *Dispatcher) RegisterService(desc *service.ServiceDesc) error {
	if desc == nil {
		return service.ErrEmptyServiceName
	}
	if err := desc.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.services[desc.Name]; ok {
		d.logger.Warn("service already registered, ignored", zap.String("service", desc.Name))
		return fmt.Errorf("%w: %s", ErrServiceExists, desc.Name)
	}
	d.services[desc.Name] = desc
	d.logger.Info("service registered",
		zap.String("service", desc.Name),
		zap.Strings("methods", desc.MethodNames()))
	return nil
}

// Use appends middlewares; they apply in the order they are added.
func (d *Dispatcher) Use(mws ...middleware.Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, mws...)
	// Build the chain once here, not per request
	d.handler = middleware.Chain(d.middlewares...)(invoke)
}

// Services lists the registered service names, sorted.
func (d *Dispatcher) Services() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.services))
	for name := range d.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HandleMessage processes one request frame and sends the response on conn.
// It has the transport.MessageHandler signature.
func (d *Dispatcher) HandleMessage(conn transport.Conn, frame []byte) {
	msg, err := codec.DecodeFrame(frame)
	if err != nil {
		// Without metadata there is nobody to answer
		d.logger.Warn("drop undecodable frame",
			zap.String("remote", conn.RemoteAddr()),
			zap.Error(err))
		return
	}
	meta := &msg.Meta

	d.mu.RLock()
	desc, ok := d.services[meta.ServiceName]
	handler := d.handler
	d.mu.RUnlock()
	if !ok {
		d.drop(conn, meta, message.CodeUnknownService, "unknown service "+meta.ServiceName, nil)
		return
	}

	method, ok := desc.Method(meta.MethodName)
	if !ok {
		d.drop(conn, meta, message.CodeUnknownMethod, "unknown method "+meta.MethodName, nil)
		return
	}

	req, resp := method.NewRequest(), method.NewResponse()
	if err := d.codec.Decode(msg.Payload, req); err != nil {
		d.drop(conn, meta, message.CodeBadRequest, "cannot parse request", err)
		return
	}

	inv := &middleware.Invocation{
		Service:   meta.ServiceName,
		Method:    meta.MethodName,
		RequestID: meta.RequestID,
		Remote:    conn.RemoteAddr(),
		Request:   req,
		Response:  resp,
	}
	mc := &methodCall{desc: method}
	ctx := context.WithValue(context.Background(), methodKey{}, mc)
	if err := handler(ctx, inv); err != nil {
		if !mc.ran {
			// Refused before the method ran (rate limit, ...): nothing to reply with
			d.drop(conn, meta, message.CodeRejected, err.Error(), err)
			return
		}
		if d.errorReplies {
			d.drop(conn, meta, message.CodeHandlerError, err.Error(), err)
			return
		}
		// Handler failures still produce a normal response
		d.logger.Warn("handler returned error",
			zap.String("service", meta.ServiceName),
			zap.String("method", meta.MethodName),
			zap.Uint64("request_id", meta.RequestID),
			zap.Error(err))
	}

	body, err := codec.EncodeFrame(meta.ResponseMeta(), inv.Response, d.codec)
	if err != nil {
		d.drop(conn, meta, message.CodeInternal, "cannot encode response", err)
		return
	}
	conn.Send(protocol.AddLengthPrefix(body))
}

// drop logs a failed request and, with error replies enabled, answers it.
func (d *Dispatcher) drop(conn transport.Conn, meta *message.RPCMeta, code int32, reason string, err error) {
	d.logger.Warn("drop request",
		zap.String("service", meta.ServiceName),
		zap.String("method", meta.MethodName),
		zap.Uint64("request_id", meta.RequestID),
		zap.String("remote", conn.RemoteAddr()),
		zap.String("reason", reason),
		zap.Error(err))
	if !d.errorReplies {
		return
	}
	// error_msg is a proto3 string, peers reject invalid UTF-8
	body := codec.EncodeFrameBytes(meta.ErrorMeta(code, strings.ToValidUTF8(reason, "\uFFFD")), nil)
	conn.Send(protocol.AddLengthPrefix(body))
}

type methodKey struct{}

// methodCall carries the resolved method down the chain and records whether
// the chain let the call through to it.
type methodCall struct {
	desc *service.MethodDesc
	ran  bool
}

// invoke is the innermost handler of the middleware chain.
func invoke(ctx context.Context, inv *middleware.Invocation) error {
	mc, ok := ctx.Value(methodKey{}).(*methodCall)
	if !ok {
		return fmt.Errorf("server: no method for %s.%s", inv.Service, inv.Method)
	}
	mc.ran = true
	return mc.desc.Handler(ctx, inv.Request, inv.Response)
}
