package server

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"pbrpc/client"
	"pbrpc/echo"
)

// ---- Setup 公共函数 ----

func setupServerAndClient(b *testing.B, ioThreads int) (*Server, *client.Client) {
	svr, err := NewBuilder().WithHost("127.0.0.1").WithPort(0).WithIOThreads(ioThreads).
		WithLogger(zap.NewNop()).Build()
	if err != nil {
		b.Fatal(err)
	}
	if err := svr.RegisterService(echo.Desc(&echo.Service{})); err != nil {
		b.Fatal(err)
	}
	if err := svr.Start(); err != nil {
		b.Fatal(err)
	}

	cli, err := client.Dial(context.Background(), svr.Addr().String(), client.WithLogger(zap.NewNop()))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() {
		cli.Close()
		svr.Shutdown(3 * time.Second)
	})
	return svr, cli
}

// ---- Benchmark ----

// 场景1: 单 goroutine 串行调用
func BenchmarkSerialCall(b *testing.B) {
	_, cli := setupServerAndClient(b, 1)

	args := wrapperspb.String("bench")
	reply := &wrapperspb.StringValue{}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := cli.Call(context.Background(), echo.Echo, args, reply); err != nil {
			b.Fatal(err)
		}
	}
}

// 场景2: 多 goroutine 共享一个连接并发调用（请求按 id 关联，响应可乱序）
func BenchmarkConcurrentCall(b *testing.B) {
	_, cli := setupServerAndClient(b, 4)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		args := wrapperspb.String("bench")
		reply := &wrapperspb.StringValue{}
		for pb.Next() {
			if err := cli.Call(context.Background(), echo.Echo, args, reply); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// 场景3: 只走 dispatcher，不走网络
func BenchmarkHandleMessage(b *testing.B) {
	d := NewDispatcher(WithLogger(zap.NewNop()))
	if err := d.RegisterService(echo.Desc(&echo.Service{})); err != nil {
		b.Fatal(err)
	}
	frame := request(b, echo.ServiceName, echo.MethodEcho, 1, wrapperspb.String("bench"))
	conn := &discardConn{}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.HandleMessage(conn, frame)
	}
}

type discardConn struct{}

func (discardConn) Send([]byte)         {}
func (discardConn) RemoteAddr() string { return "discard" }
