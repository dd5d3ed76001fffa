package widgetauth

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "widgetauth"

type metrics struct {
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	managers         prometheus.Gauge
	backoffs         prometheus.Counter
	subscriberPanics prometheus.Counter
	broadcastErrors  prometheus.Counter
	evictions        prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "credential_requests_total",
			Help:      "Mint and refresh calls by operation and result.",
		}, []string{"op", "result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "credential_request_duration_seconds",
			Help:      "Latency of mint and refresh calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		managers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "managers",
			Help:      "Token managers currently held by the registry.",
		}),
		backoffs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "backoff_total",
			Help:      "Refresh cycles that failed and scheduled a retry.",
		}),
		subscriberPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "subscriber_panics_total",
			Help:      "Subscriber callbacks that panicked.",
		}),
		broadcastErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcast_errors_total",
			Help:      "Token events the broadcaster failed to emit.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "idle_evictions_total",
			Help:      "Managers destroyed by the idle janitor.",
		}),
	}
	if reg == nil {
		return m
	}

	m.requests = register(reg, m.requests)
	m.requestDuration = register(reg, m.requestDuration)
	m.managers = register(reg, m.managers)
	m.backoffs = register(reg, m.backoffs)
	m.subscriberPanics = register(reg, m.subscriberPanics)
	m.broadcastErrors = register(reg, m.broadcastErrors)
	m.evictions = register(reg, m.evictions)
	return m
}

// register returns the already registered collector when two registries share reg.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) observe(op string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.requests.WithLabelValues(op, result).Inc()
	m.requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
