// Package transport is the boundary between the RPC layer and the network.
//
// The RPC layer only sees two things: a MessageHandler that the transport
// invokes once per complete frame, and a Conn it can hand response bytes to.
// Sockets, accumulators and connection lifecycle stay on this side.
//
//	conn reader ──bytes──┐
//	conn reader ──bytes──┼──→ event loop k ──FrameDecoder──→ handler(conn, frame)
//	conn reader ──bytes──┘          (one loop owns each connection)
package transport

import (
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"pbrpc/logger"
	"pbrpc/protocol"
)

// Conn is the handle the RPC layer uses to answer a peer.
// Send is best effort: bytes for a connection that is gone are dropped silently.
// The RPC layer never closes a Conn; its lifecycle belongs to the transport.
type Conn interface {
	Send(data []byte)
	RemoteAddr() string // for logs and middleware only, never used to reply
}

// MessageHandler is invoked once per decoded frame, in arrival order per connection.
type MessageHandler func(conn Conn, frame []byte)

// NetworkServer is the contract every concrete server transport implements.
type NetworkServer interface {
	Start() error // listen and serve in the background
	Run() error   // Start if needed, then block until stopped
	Stop() error
	SetMessageHandler(handler MessageHandler)
	Addr() net.Addr
}

var (
	ErrClosed         = errors.New("transport: connection closed")
	ErrServerStarted  = errors.New("transport: server already started")
	ErrInvalidThreads = errors.New("transport: io threads must be >= 1")
)

const defaultReadBufferSize = 64 << 10

type options struct {
	maxFrameSize   uint32
	writeTimeout   time.Duration
	readBufferSize int
	logger         *zap.Logger
}

func defaultOptions() options {
	return options{
		maxFrameSize:   protocol.DefaultMaxFrameSize,
		readBufferSize: defaultReadBufferSize,
	}
}

// Option configures a TCPServer or a ClientTransport.
type Option func(*options)

// WithMaxFrameSize sets the frame size ceiling; 0 disables it.
func WithMaxFrameSize(n uint32) Option {
	return func(o *options) { o.maxFrameSize = n }
}

// WithWriteTimeout bounds every write; a write that times out closes the connection.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

// WithReadBufferSize sets the size of the per-connection read buffer.
func WithReadBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readBufferSize = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.L()
	}
	o.logger = o.logger.With(zap.String("module", "transport"))
	return o
}
