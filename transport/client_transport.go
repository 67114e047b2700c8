package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pbrpc/protocol"
)

// ClientTransport is the client side of the boundary: one TCP connection,
// serialized writes, and a read loop that cuts the stream into frames.
//
// Request correlation does not live here; the frames are handed to the
// caller (usually client.Channel.OnMessage), which matches them by request id.
type ClientTransport struct {
	conn    net.Conn   // Underlying TCP connection
	sending sync.Mutex // Write lock: concurrent callers share one conn, frames must not interleave
	closed  atomic.Bool
	opts    options
}

// Dial connects to addr and wraps the connection.
func Dial(ctx context.Context, addr string, opts ...Option) (*ClientTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewClientTransport(conn, opts...), nil
}

// NewClientTransport wraps an established connection.
func NewClientTransport(conn net.Conn, opts ...Option) *ClientTransport {
	t := &ClientTransport{
		conn: conn,
		opts: buildOptions(opts),
	}
	t.opts.logger = t.opts.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	return t
}

// Send writes one already-framed message. The whole buffer is written under
// the sending lock so concurrent callers never interleave bytes.
func (t *ClientTransport) Send(data []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	if t.opts.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.opts.writeTimeout))
	}
	if _, err := t.conn.Write(data); err != nil {
		return err
	}
	return nil
}

// Serve reads the connection until it fails or is closed, calling fn for every
// complete frame in arrival order. It returns nil after Close, the read error
// otherwise. Only one Serve may run per transport.
func (t *ClientTransport) Serve(fn protocol.FrameFunc) error {
	decoder := protocol.NewFrameDecoder(t.opts.maxFrameSize)
	buf := make([]byte, t.opts.readBufferSize)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			if ferr := decoder.Feed(buf[:n], fn); ferr != nil {
				t.opts.logger.Warn("invalid frame from server, closing", zap.Error(ferr))
				_ = t.Close()
				return ferr
			}
		}
		if err != nil {
			if t.closed.Load() {
				return nil
			}
			if !errors.Is(err, net.ErrClosed) {
				t.opts.logger.Debug("read loop stopped", zap.Error(err))
			}
			return err
		}
	}
}

// Close closes the underlying connection; pending reads and writes fail.
func (t *ClientTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.conn.Close()
}

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}
