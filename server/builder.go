package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"pbrpc/codec"
	"pbrpc/config"
	"pbrpc/logger"
	"pbrpc/middleware"
	"pbrpc/transport"
)

// NetworkType selects the transport implementation.
type NetworkType string

const NetworkTCP NetworkType = "tcp"

var (
	ErrUnsupportedNetwork = errors.New("server: unsupported network type")
	ErrInvalidIOThreads   = errors.New("server: io threads must be >= 1")
)

// Builder collects server settings and produces a Server.
//
//	svr, err := server.NewBuilder().WithPort(12345).WithIOThreads(4).Build()
type Builder struct {
	host         string
	port         int
	network      NetworkType
	ioThreads    int
	maxFrameSize uint32
	readBuffer   int
	writeTimeout time.Duration
	codecType    codec.CodecType
	errorReplies bool

	handlerTimeout time.Duration
	rateLimit      float64
	rateBurst      int
	metrics        prometheus.Registerer
	middlewares    []middleware.Middleware

	logger *zap.Logger
}

// NewBuilder returns a builder with the defaults of config.DefaultServer.
func NewBuilder() *Builder {
	def := config.DefaultServer()
	return &Builder{
		port:         def.Port,
		network:      NetworkType(def.Network),
		ioThreads:    def.IOThreads,
		maxFrameSize: def.MaxFrameSize,
		readBuffer:   def.ReadBufferSize,
		codecType:    codec.CodecTypeProto,
		rateBurst:    def.RateBurst,
	}
}

// FromConfig returns a builder pre-filled from cfg.
func FromConfig(cfg *config.ServerConfig) (*Builder, error) {
	ct, err := codec.ParseCodecType(cfg.Codec)
	if err != nil {
		return nil, err
	}
	return NewBuilder().
		WithNetwork(NetworkType(cfg.Network)).
		WithPort(cfg.Port).
		WithIOThreads(cfg.IOThreads).
		WithMaxFrameSize(cfg.MaxFrameSize).
		WithReadBufferSize(cfg.ReadBufferSize).
		WithCodec(ct).
		WithErrorReplies(cfg.ErrorReplies).
		WithHandlerTimeout(cfg.HandlerTimeout.Std()).
		WithRateLimit(cfg.RateLimit, cfg.RateBurst), nil
}

// WithHost sets the bind host; empty binds every interface.
func (b *Builder) WithHost(host string) *Builder {
	b.host = host
	return b
}

func (b *Builder) WithPort(port int) *Builder {
	b.port = port
	return b
}

func (b *Builder) WithNetwork(network NetworkType) *Builder {
	b.network = network
	return b
}

func (b *Builder) WithIOThreads(n int) *Builder {
	b.ioThreads = n
	return b
}

// WithMaxFrameSize bounds request frames; 0 disables the ceiling.
func (b *Builder) WithMaxFrameSize(n uint32) *Builder {
	b.maxFrameSize = n
	return b
}

// WithReadBufferSize sets how many bytes a connection reader asks the socket for
// at a time; 0 keeps the transport default.
func (b *Builder) WithReadBufferSize(n int) *Builder {
	b.readBuffer = n
	return b
}

func (b *Builder) WithWriteTimeout(d time.Duration) *Builder {
	b.writeTimeout = d
	return b
}

func (b *Builder) WithCodec(t codec.CodecType) *Builder {
	b.codecType = t
	return b
}

func (b *Builder) WithErrorReplies(enabled bool) *Builder {
	b.errorReplies = enabled
	return b
}

// WithHandlerTimeout puts a deadline on every handler context; 0 disables.
func (b *Builder) WithHandlerTimeout(d time.Duration) *Builder {
	b.handlerTimeout = d
	return b
}

// WithRateLimit limits the server to r requests per second; 0 disables.
func (b *Builder) WithRateLimit(r float64, burst int) *Builder {
	b.rateLimit = r
	b.rateBurst = burst
	return b
}

// WithMetrics registers the RPC collectors with reg.
func (b *Builder) WithMetrics(reg prometheus.Registerer) *Builder {
	b.metrics = reg
	return b
}

// WithMiddleware appends user middlewares, applied inside the built-in ones.
func (b *Builder) WithMiddleware(mws ...middleware.Middleware) *Builder {
	b.middlewares = append(b.middlewares, mws...)
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// Address returns the listen address the builder will use.
func (b *Builder) Address() string {
	return net.JoinHostPort(b.host, strconv.Itoa(b.port))
}

// Build validates the settings and assembles the server.
func (b *Builder) Build() (*Server, error) {
	if b.network != NetworkTCP {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, b.network)
	}
	if b.ioThreads < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIOThreads, b.ioThreads)
	}
	if b.port < 0 || b.port > 65535 {
		return nil, fmt.Errorf("%w: %d", config.ErrInvalidPort, b.port)
	}

	log := b.logger
	if log == nil {
		log = logger.L()
	}

	// Recovery outermost so a panic anywhere below is contained
	mws := []middleware.Middleware{
		middleware.RecoveryMiddleware(log),
		middleware.LoggingMiddleware(log),
	}
	if b.metrics != nil {
		m, err := middleware.NewMetrics(b.metrics)
		if err != nil {
			return nil, fmt.Errorf("server: register metrics: %w", err)
		}
		mws = append(mws, m.Middleware())
	}
	if b.rateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(b.rateLimit, b.rateBurst))
	}
	if b.handlerTimeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(b.handlerTimeout))
	}
	mws = append(mws, b.middlewares...)

	dispatcher := NewDispatcher(
		WithCodec(b.codecType),
		WithErrorReplies(b.errorReplies),
		WithMiddleware(mws...),
		WithLogger(log),
	)

	topts := []transport.Option{
		transport.WithMaxFrameSize(b.maxFrameSize),
		transport.WithReadBufferSize(b.readBuffer),
		transport.WithLogger(log),
	}
	if b.writeTimeout > 0 {
		topts = append(topts, transport.WithWriteTimeout(b.writeTimeout))
	}
	network, err := transport.NewTCPServer(b.Address(), b.ioThreads, topts...)
	if err != nil {
		return nil, err
	}
	return New(network, dispatcher, log), nil
}
