package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// 模拟一个简单的 handler：直接返回成功响应
func echoHandler(ctx context.Context, inv *Invocation) error {
	inv.Response = "ok"
	return nil
}

// 模拟一个慢 handler：睡 200ms
func slowHandler(ctx context.Context, inv *Invocation) error {
	time.Sleep(200 * time.Millisecond)
	inv.Response = "ok"
	return nil
}

func newInvocation() *Invocation {
	return &Invocation{Service: "Arith", Method: "Add", RequestID: 1}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(echoHandler)

	inv := newInvocation()
	require.NoError(t, handler(context.Background(), inv))
	assert.Equal(t, "ok", inv.Response)

	entries := logs.FilterMessage("rpc handled").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Add", entries[0].ContextMap()["method"])

	failing := LoggingMiddleware(zap.New(core))(func(ctx context.Context, inv *Invocation) error {
		return errors.New("boom")
	})
	assert.EqualError(t, failing(context.Background(), newInvocation()), "boom")
	assert.Equal(t, 1, logs.FilterMessage("rpc failed").Len())
}

func TestTimeout(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)
	err := handler(context.Background(), newInvocation())
	assert.ErrorIs(t, err, ErrHandlerTimeout)

	fast := TimeOutMiddleware(time.Second)(echoHandler)
	assert.NoError(t, fast(context.Background(), newInvocation()))
}

func TestTimeoutDeadlineVisibleToHandler(t *testing.T) {
	handler := TimeOutMiddleware(20 * time.Millisecond)(func(ctx context.Context, inv *Invocation) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, handler(context.Background(), newInvocation()), context.DeadlineExceeded)
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → 前 2 个立刻放行，第 3 个被拒
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		require.NoError(t, handler(context.Background(), newInvocation()), "request %d should pass", i)
	}
	assert.ErrorIs(t, handler(context.Background(), newInvocation()), ErrRateLimited)
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(func(ctx context.Context, inv *Invocation) error {
		panic("nil map")
	})

	var err error
	assert.NotPanics(t, func() { err = handler(context.Background(), newInvocation()) })
	assert.ErrorContains(t, err, "panic in Arith.Add")
	assert.Equal(t, 1, logs.Len())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	ok := m.Middleware()(echoHandler)
	limited := Chain(m.Middleware(), RateLimitMiddleware(1, 1))(echoHandler)

	require.NoError(t, ok(context.Background(), newInvocation()))
	require.NoError(t, limited(context.Background(), newInvocation()))
	assert.ErrorIs(t, limited(context.Background(), newInvocation()), ErrRateLimited)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.handled.WithLabelValues("Arith", "Add", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.handled.WithLabelValues("Arith", "Add", "rate_limited")))

	// a second registration on the same registry must fail
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, inv *Invocation) error {
				order = append(order, name+".before")
				err := next(ctx, inv)
				order = append(order, name+".after")
				return err
			}
		}
	}

	handler := Chain(mark("A"), mark("B"), TimeOutMiddleware(500*time.Millisecond))(echoHandler)
	require.NoError(t, handler(context.Background(), newInvocation()))
	assert.Equal(t, []string{"A.before", "B.before", "B.after", "A.after"}, order)
}
