package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pbrpc/protocol"
)

func startEchoServer(t *testing.T, ioThreads int, opts ...Option) *TCPServer {
	t.Helper()
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	svr, err := NewTCPServer("127.0.0.1:0", ioThreads, opts...)
	require.NoError(t, err)
	svr.SetMessageHandler(func(conn Conn, frame []byte) {
		conn.Send(protocol.AddLengthPrefix(frame))
	})
	require.NoError(t, svr.Start())
	t.Cleanup(func() { _ = svr.Stop() })
	return svr
}

func dialFrames(t *testing.T, svr *TCPServer) (*ClientTransport, <-chan []byte) {
	t.Helper()
	ct, err := Dial(context.Background(), svr.Addr().String(), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ct.Close() })

	frames := make(chan []byte, 1024)
	go func() {
		_ = ct.Serve(func(frame []byte) { frames <- frame })
		close(frames)
	}()
	return ct, frames
}

func recvFrame(t *testing.T, frames <-chan []byte) []byte {
	t.Helper()
	select {
	case f, ok := <-frames:
		require.True(t, ok, "connection closed")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

// 单连接上串行发送多个帧
func TestClientTransportSerial(t *testing.T) {
	svr := startEchoServer(t, 1)
	ct, frames := dialFrames(t, svr)

	for i := 0; i < 3; i++ {
		body := []byte(fmt.Sprintf("frame-%d", i))
		require.NoError(t, ct.Send(protocol.AddLengthPrefix(body)))
		assert.Equal(t, body, recvFrame(t, frames))
	}
}

func TestPipelinedFramesInOneWrite(t *testing.T) {
	svr := startEchoServer(t, 2)
	ct, frames := dialFrames(t, svr)

	var wire []byte
	for i := 0; i < 10; i++ {
		wire = append(wire, protocol.AddLengthPrefix([]byte(fmt.Sprintf("p%d", i)))...)
	}
	require.NoError(t, ct.Send(wire))

	for i := 0; i < 10; i++ {
		assert.Equal(t, fmt.Sprintf("p%d", i), string(recvFrame(t, frames)))
	}
}

// 读缓冲远小于帧时，帧仍然按序完整交付
func TestSmallReadBuffer(t *testing.T) {
	svr := startEchoServer(t, 2, WithReadBufferSize(3))
	ct, err := Dial(context.Background(), svr.Addr().String(), WithLogger(zap.NewNop()), WithReadBufferSize(2))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ct.Close() })
	frames := make(chan []byte, 16)
	go func() {
		_ = ct.Serve(func(frame []byte) { frames <- frame })
		close(frames)
	}()

	var wire []byte
	for i := 0; i < 5; i++ {
		wire = append(wire, protocol.AddLengthPrefix([]byte(fmt.Sprintf("small-buffer-%d", i)))...)
	}
	require.NoError(t, ct.Send(wire))
	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprintf("small-buffer-%d", i), string(recvFrame(t, frames)))
	}
}

func TestFrameSplitAcrossWrites(t *testing.T) {
	svr := startEchoServer(t, 1)
	ct, frames := dialFrames(t, svr)

	wire := protocol.AddLengthPrefix([]byte("byte by byte"))
	for i := range wire {
		require.NoError(t, ct.Send(wire[i:i+1]))
	}
	assert.Equal(t, "byte by byte", string(recvFrame(t, frames)))
}

// 多个连接并发发送，每个连接内部保持顺序
func TestPerConnectionOrdering(t *testing.T) {
	svr := startEchoServer(t, 3)

	var wg sync.WaitGroup
	for c := 0; c < 5; c++ {
		ct, frames := dialFrames(t, svr)
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := ct.Send(protocol.AddLengthPrefix([]byte(fmt.Sprintf("%d-%d", c, i)))); err != nil {
					t.Errorf("send: %v", err)
					return
				}
			}
			for i := 0; i < 50; i++ {
				select {
				case f := <-frames:
					if string(f) != fmt.Sprintf("%d-%d", c, i) {
						t.Errorf("conn %d: got %s at %d", c, f, i)
					}
				case <-time.After(2 * time.Second):
					t.Errorf("conn %d: timeout at %d", c, i)
					return
				}
			}
		}(c)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return svr.ConnCount() == 5 }, time.Second, 10*time.Millisecond)
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	svr := startEchoServer(t, 1, WithMaxFrameSize(16))
	ct, frames := dialFrames(t, svr)

	header := make([]byte, protocol.HeaderSize)
	binary.BigEndian.PutUint32(header, 1<<20)
	require.NoError(t, ct.Send(header))

	select {
	case _, ok := <-frames:
		assert.False(t, ok, "expected the server to close the connection")
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed")
	}
	require.Eventually(t, func() bool { return svr.ConnCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestConnSendAfterCloseIsDropped(t *testing.T) {
	svr, err := NewTCPServer("127.0.0.1:0", 1, WithLogger(zap.NewNop()))
	require.NoError(t, err)

	held := make(chan Conn, 1)
	svr.SetMessageHandler(func(conn Conn, frame []byte) { held <- conn })
	require.NoError(t, svr.Start())
	defer svr.Stop()

	ct, err := Dial(context.Background(), svr.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ct.Send(protocol.AddLengthPrefix([]byte("x"))))

	var conn Conn
	select {
	case conn = <-held:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	assert.NotEmpty(t, conn.RemoteAddr())

	require.NoError(t, ct.Close())
	require.Eventually(t, func() bool { return svr.ConnCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	assert.NotPanics(t, func() { conn.Send([]byte("late response")) })
}

func TestNoHandlerDropsFrames(t *testing.T) {
	svr, err := NewTCPServer("127.0.0.1:0", 1, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	require.NoError(t, svr.Start())
	defer svr.Stop()

	ct, err := Dial(context.Background(), svr.Addr().String())
	require.NoError(t, err)
	defer ct.Close()
	require.NoError(t, ct.Send(protocol.AddLengthPrefix([]byte("ignored"))))
	require.Eventually(t, func() bool { return svr.ConnCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestServerLifecycle(t *testing.T) {
	_, err := NewTCPServer(":0", 0)
	assert.ErrorIs(t, err, ErrInvalidThreads)

	svr, err := NewTCPServer("127.0.0.1:0", 2, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	assert.Nil(t, svr.Addr())

	runErr := make(chan error, 1)
	go func() { runErr <- svr.Run() }()
	require.Eventually(t, func() bool { return svr.Addr() != nil }, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, svr.Start(), ErrServerStarted)

	require.NoError(t, svr.Stop())
	require.NoError(t, svr.Stop())
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	assert.ErrorIs(t, svr.Start(), ErrClosed)
}

func TestClientTransportSendAfterClose(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	ct := NewClientTransport(a, WithLogger(zap.NewNop()))
	require.NoError(t, ct.Close())
	assert.ErrorIs(t, ct.Send([]byte{0}), ErrClosed)
	assert.NoError(t, ct.Serve(func([]byte) {}))
	assert.Same(t, a, ct.Conn())
}
