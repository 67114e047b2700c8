package client

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"

	"pbrpc/codec"
	"pbrpc/config"
	"pbrpc/logger"
	"pbrpc/transport"
)

// Client is a Channel bound to one TCP connection.
//
//	Call/Go → Channel (id + pending table) → ClientTransport.Send (write lock)
//	read goroutine: ClientTransport.Serve → Channel.OnMessage → call.Done
//
// When the connection is lost every pending call fails with ErrShutdown.
type Client struct {
	transport *transport.ClientTransport
	channel   *Channel
	logger    *zap.Logger
	done      chan struct{} // closed when the read goroutine exits
	err       error         // why the read goroutine exited, valid after done
}

// Dial connects to addr and starts the read goroutine.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	o := buildOptions(opts)
	t, err := transport.Dial(ctx, addr, transportOptions(o)...)
	if err != nil {
		return nil, err
	}
	return newClient(t, opts), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, opts ...Option) *Client {
	o := buildOptions(opts)
	return newClient(transport.NewClientTransport(conn, transportOptions(o)...), opts)
}

func newClient(t *transport.ClientTransport, opts []Option) *Client {
	c := &Client{
		transport: t,
		channel:   NewChannel(t.Send, opts...),
		done:      make(chan struct{}),
	}
	c.logger = c.channel.logger.With(zap.String("remote", t.Conn().RemoteAddr().String()))
	go c.recv()
	return c
}

func (c *Client) recv() {
	defer close(c.done)
	err := c.transport.Serve(c.channel.OnMessage)
	if err != nil {
		c.logger.Warn("connection lost", zap.Error(err))
		_ = c.transport.Close()
	}
	c.err = err
	c.channel.Close(err)
}

// Call invokes method and waits for the response, see Channel.Call.
func (c *Client) Call(ctx context.Context, method MethodID, args, reply any) error {
	return c.channel.Call(ctx, method, args, reply)
}

// Go invokes method asynchronously, see Channel.Go.
func (c *Client) Go(method MethodID, args, reply any, done chan *Call) *Call {
	return c.channel.Go(method, args, reply, done)
}

// Channel returns the correlator used by the client.
func (c *Client) Channel() *Channel {
	return c.channel
}

// Done is closed once the connection is gone and every pending call failed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended; nil after a local Close.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close closes the connection and waits for pending calls to be failed.
func (c *Client) Close() error {
	err := c.transport.Close()
	<-c.done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// ConfigOptions turns a ClientConfig into Dial options.
func ConfigOptions(cfg *config.ClientConfig) ([]Option, error) {
	ct, err := codec.ParseCodecType(cfg.Codec)
	if err != nil {
		return nil, err
	}
	opts := []Option{
		WithCodec(ct),
		WithCallTimeout(cfg.CallTimeout.Std()),
		WithMaxFrameSize(cfg.MaxFrameSize),
	}
	return opts, nil
}

// DialConfig dials cfg.Addr with the options and logger the config describes.
func DialConfig(ctx context.Context, cfg *config.ClientConfig) (*Client, error) {
	opts, err := ConfigOptions(cfg)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	opts = append(opts, WithLogger(log))

	if d := cfg.DialTimeout.Std(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return Dial(ctx, cfg.Addr, opts...)
}

func transportOptions(o options) []transport.Option {
	opts := []transport.Option{
		transport.WithMaxFrameSize(o.maxFrameSize),
		transport.WithLogger(o.baseLogger),
	}
	if o.writeTimeout > 0 {
		opts = append(opts, transport.WithWriteTimeout(o.writeTimeout))
	}
	return opts
}

