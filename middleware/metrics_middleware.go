package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the server-side RPC collectors.
type Metrics struct {
	handled  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// Passing a fresh prometheus.NewRegistry() keeps independent servers apart.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		handled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pbrpc",
				Subsystem: "server",
				Name:      "handled_total",
				Help:      "Total number of RPCs completed by the server, by result.",
			},
			[]string{"service", "method", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pbrpc",
				Subsystem: "server",
				Name:      "handling_seconds",
				Help:      "Time spent in the method handler.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"service", "method"},
		),
	}
	for _, c := range []prometheus.Collector{m.handled, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Middleware records one observation per invocation.
func (m *Metrics) Middleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) error {
			start := time.Now()
			err := next(ctx, inv)
			m.duration.WithLabelValues(inv.Service, inv.Method).Observe(time.Since(start).Seconds())
			m.handled.WithLabelValues(inv.Service, inv.Method, resultLabel(err)).Inc()
			return err
		}
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrHandlerTimeout):
		return "timeout"
	default:
		return "error"
	}
}
