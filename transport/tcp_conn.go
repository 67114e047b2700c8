package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pbrpc/protocol"
)

// tcpConn is the server-side state of one accepted connection.
// The decoder is only touched by the owning event loop.
type tcpConn struct {
	conn         net.Conn
	remote       string
	loop         *eventLoop
	decoder      *protocol.FrameDecoder
	writeMu      sync.Mutex // Responses from different goroutines must not interleave
	writeTimeout time.Duration
	closed       atomic.Bool
	logger       *zap.Logger
}

func newTCPConn(conn net.Conn, loop *eventLoop, o *options) *tcpConn {
	remote := conn.RemoteAddr().String()
	return &tcpConn{
		conn:         conn,
		remote:       remote,
		loop:         loop,
		decoder:      protocol.NewFrameDecoder(o.maxFrameSize),
		writeTimeout: o.writeTimeout,
		logger:       o.logger.With(zap.String("remote", remote)),
	}
}

func (c *tcpConn) RemoteAddr() string {
	return c.remote
}

// Send writes data to the peer. It never reports an error: once the
// connection is closed the bytes are dropped, and a failed write closes it.
func (c *tcpConn) Send(data []byte) {
	if c.closed.Load() {
		c.logger.Debug("connection closed, drop outgoing bytes", zap.Int("bytes", len(data)))
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.conn.Write(data); err != nil {
		c.logger.Warn("write failed, closing connection", zap.Error(err))
		c.close()
	}
}

// close is idempotent; it reports whether this call closed the socket.
func (c *tcpConn) close() bool {
	if !c.closed.CompareAndSwap(false, true) {
		return false
	}
	_ = c.conn.Close()
	return true
}
