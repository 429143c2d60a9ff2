package observe

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/papercomputeco/parley/pkg/transport"
)

// Metrics records Prometheus metrics for transport attempts.
type Metrics struct {
	attempts  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	fragments prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "parley",
				Subsystem: "transport",
				Name:      "attempts_total",
				Help:      "Total number of chat transport attempts",
			},
			[]string{"transport", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "parley",
				Subsystem: "transport",
				Name:      "attempt_duration_seconds",
				Help:      "Chat transport attempt duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"transport"},
		),
		fragments: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "parley",
				Subsystem: "transport",
				Name:      "fragments_total",
				Help:      "Total number of streamed answer fragments",
			},
		),
	}

	for _, c := range []prometheus.Collector{m.attempts, m.duration, m.fragments} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) Start(ctx context.Context, name string) (context.Context, transport.Span) {
	var kind transport.Kind
	switch name {
	case transport.SpanStream:
		kind = transport.KindStream
	case transport.SpanFallback:
		kind = transport.KindFallback
	default:
		// Only attempts are measured; the operation is their sum.
		return ctx, nopSpan{}
	}

	return ctx, &metricSpan{metrics: m, kind: kind, start: time.Now()}
}

type metricSpan struct {
	metrics *Metrics
	kind    transport.Kind
	start   time.Time
}

func (s *metricSpan) Annotate(key string, value any) {
	if key != "fragments" {
		return
	}
	if n, ok := value.(int); ok && n > 0 {
		s.metrics.fragments.Add(float64(n))
	}
}

func (s *metricSpan) End(err error) {
	s.metrics.duration.WithLabelValues(string(s.kind)).Observe(time.Since(s.start).Seconds())
	s.metrics.attempts.WithLabelValues(string(s.kind), result(err)).Inc()
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, transport.ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		var serverErr *transport.ServerError
		var protoErr *transport.ProtocolError
		switch {
		case errors.As(err, &serverErr):
			return "server_error"
		case errors.As(err, &protoErr):
			return "protocol_error"
		default:
			return "connection_error"
		}
	}
}

type nopSpan struct{}

func (nopSpan) Annotate(string, any) {}
func (nopSpan) End(error)            {}
