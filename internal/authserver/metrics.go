package authserver

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	tokens *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "widgetauth",
			Subsystem: "authserver",
			Name:      "tokens_total",
			Help:      "Mint and refresh requests by operation and result.",
		}, []string{"op", "result"}),
	}
	reg.MustRegister(m.tokens)
	return m
}

func (m *metrics) observe(op string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.tokens.WithLabelValues(op, result).Inc()
}
