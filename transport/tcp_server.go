package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// loopEvent is one read result handed from a connection reader to its loop.
type loopEvent struct {
	conn *tcpConn
	data []byte
	err  error // non-nil: the reader stopped, tear the connection down
}

// eventLoop owns a disjoint subset of the connections. Frame extraction and
// handler invocation for those connections run only on the loop goroutine,
// so a single connection is never processed concurrently.
type eventLoop struct {
	id     int
	events chan loopEvent
}

// TCPServer is the TCP implementation of NetworkServer.
//
//	Accept → pin conn to loop (round robin) → reader goroutine reads bytes
//	  → loop: FrameDecoder.Feed → handler(conn, frame) for each complete frame
//
// A slow handler stalls every connection of its loop; use more io threads
// or offload long work from the handler.
type TCPServer struct {
	address   string
	ioThreads int
	opts      options

	handler atomic.Pointer[MessageHandler]

	mu       sync.Mutex
	listener net.Listener
	loops    []*eventLoop
	conns    map[*tcpConn]struct{}
	next     int // next loop for round-robin assignment
	started  bool
	err      error // fatal accept error, reported by Run

	shutdown atomic.Bool   // Set before closing the listener so Accept errors are expected
	done     chan struct{} // closed when Stop begins
	stopped  chan struct{} // closed when every goroutine has exited
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ NetworkServer = (*TCPServer)(nil)

// NewTCPServer creates a server listening on address (e.g. ":12345") with ioThreads event loops.
func NewTCPServer(address string, ioThreads int, opts ...Option) (*TCPServer, error) {
	if ioThreads < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidThreads, ioThreads)
	}
	return &TCPServer{
		address:   address,
		ioThreads: ioThreads,
		opts:      buildOptions(opts),
		conns:     make(map[*tcpConn]struct{}),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}, nil
}

// SetMessageHandler installs the per-frame callback. It may be called before or after Start.
func (s *TCPServer) SetMessageHandler(handler MessageHandler) {
	s.handler.Store(&handler)
}

// Addr returns the bound address, or nil before Start.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens and serves in the background.
func (s *TCPServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown.Load() {
		return ErrClosed
	}
	if s.started {
		return ErrServerStarted
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	s.listener = listener
	s.started = true

	s.loops = make([]*eventLoop, s.ioThreads)
	for i := range s.loops {
		loop := &eventLoop{id: i, events: make(chan loopEvent, 64)}
		s.loops[i] = loop
		s.wg.Add(1)
		go s.runLoop(loop)
	}

	s.wg.Add(1)
	go s.acceptLoop(listener)

	s.opts.logger.Info("server listening",
		zap.String("addr", listener.Addr().String()),
		zap.Int("io_threads", s.ioThreads))
	return nil
}

// Run starts the server if needed and blocks until it stops.
func (s *TCPServer) Run() error {
	if err := s.Start(); err != nil && !errors.Is(err, ErrServerStarted) {
		return err
	}
	<-s.stopped

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop closes the listener and every connection, then waits for all loops to exit.
func (s *TCPServer) Stop() error {
	s.stopOnce.Do(func() {
		// Set the flag BEFORE closing the listener, see acceptLoop
		s.shutdown.Store(true)
		close(s.done)

		s.mu.Lock()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		for c := range s.conns {
			c.close()
		}
		s.mu.Unlock()

		s.wg.Wait()
		close(s.stopped)
		s.opts.logger.Info("server stopped")
	})
	<-s.stopped
	return nil
}

// ConnCount reports the number of open connections.
func (s *TCPServer) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *TCPServer) acceptLoop(listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			// During Stop, listener.Close() makes Accept fail; that is not an error.
			if s.shutdown.Load() {
				return
			}
			s.opts.logger.Error("accept failed", zap.Error(err))
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			go s.Stop()
			return
		}
		s.addConn(conn)
	}
}

func (s *TCPServer) addConn(conn net.Conn) {
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	loop := s.loops[s.next%len(s.loops)]
	s.next++
	c := newTCPConn(conn, loop, &s.opts)
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	c.logger.Info("new connection", zap.Int("loop", loop.id))
	go s.readLoop(c)
}

// readLoop only moves bytes from the socket to the owning loop.
func (s *TCPServer) readLoop(c *tcpConn) {
	defer s.wg.Done()
	buf := make([]byte, s.opts.readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !s.post(c, loopEvent{conn: c, data: data}) {
				return
			}
		}
		if err != nil {
			s.post(c, loopEvent{conn: c, err: err})
			return
		}
	}
}

func (s *TCPServer) post(c *tcpConn, ev loopEvent) bool {
	select {
	case c.loop.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *TCPServer) runLoop(loop *eventLoop) {
	defer s.wg.Done()
	for {
		select {
		case ev := <-loop.events:
			s.handleEvent(ev)
		case <-s.done:
			return
		}
	}
}

func (s *TCPServer) handleEvent(ev loopEvent) {
	c := ev.conn
	if ev.err != nil {
		s.removeConn(c, ev.err)
		return
	}
	if c.closed.Load() {
		return
	}

	handler := s.handler.Load()
	err := c.decoder.Feed(ev.data, func(frame []byte) {
		if handler == nil || *handler == nil {
			c.logger.Warn("no message handler, drop frame", zap.Int("bytes", len(frame)))
			return
		}
		(*handler)(c, frame)
	})
	if err != nil {
		c.logger.Warn("invalid frame, closing connection", zap.Error(err))
		s.removeConn(c, err)
	}
}

// removeConn runs on the owning loop, so the decoder can be touched here.
func (s *TCPServer) removeConn(c *tcpConn, reason error) {
	c.close()
	c.decoder.Reset()
	s.mu.Lock()
	_, ok := s.conns[c]
	delete(s.conns, c)
	s.mu.Unlock()
	if ok {
		c.logger.Info("connection down", zap.NamedError("reason", reason))
	}
}
