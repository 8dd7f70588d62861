package pushrpc

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pushrpc/pushrpc/jsonrpc"
)

// serverMetrics aggregates the dispatcher's Prometheus instruments. A nil
// receiver is valid and records nothing, so metrics stay opt-in.
type serverMetrics struct {
	requests *prometheus.CounterVec
}

// WithMetrics registers the server's instruments with reg: request counts
// by method and outcome, and a live-session gauge.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Server) {
		m := &serverMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pushrpc",
				Name:      "requests_total",
				Help:      "Dispatched request envelopes by method and outcome code.",
			}, []string{"method", "code"}),
		}
		reg.MustRegister(m.requests)

		store := s.store
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "pushrpc",
			Name:      "live_sessions",
			Help:      "Number of live sessions in the store.",
		}, func() float64 {
			return float64(store.Len())
		}))

		s.metrics = m
	}
}

func (m *serverMetrics) observe(methodName string, resp *jsonrpc.Response) {
	if m == nil {
		return
	}
	if methodName == "" {
		methodName = "<invalid>"
	}
	code := "ok"
	if resp.Error != nil {
		code = strconv.Itoa(int(resp.Error.Code))
	}
	m.requests.WithLabelValues(methodName, code).Inc()
}
