package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for audit publishing.
type Metrics struct {
	Published             prometheus.Counter
	BufferDropped         prometheus.Counter
	CircuitBreakerDropped prometheus.Counter
	PersistFailures       prometheus.Counter
	CircuitBreakerState   prometheus.Gauge
}

// NewMetrics registers the audit publisher metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounter(prometheus.CounterOpts{
			Name: "mismobridge_audit_published_total",
			Help: "Total number of audit events persisted to the sink",
		}),
		BufferDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "mismobridge_audit_buffer_dropped_total",
			Help: "Total number of audit events rejected because the async buffer was full",
		}),
		CircuitBreakerDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "mismobridge_audit_circuit_breaker_dropped_total",
			Help: "Total number of audit events dropped while the circuit breaker was open",
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "mismobridge_audit_persist_failures_total",
			Help: "Total number of audit event persistence failures",
		}),
		CircuitBreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "mismobridge_audit_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
	}
}

func (m *Metrics) IncPublished() {
	if m == nil {
		return
	}
	m.Published.Inc()
}

func (m *Metrics) IncBufferDropped() {
	if m == nil {
		return
	}
	m.BufferDropped.Inc()
}

func (m *Metrics) IncCircuitBreakerDropped() {
	if m == nil {
		return
	}
	m.CircuitBreakerDropped.Inc()
}

func (m *Metrics) IncPersistFailures() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

// SetCircuitBreakerState sets the circuit breaker state gauge.
func (m *Metrics) SetCircuitBreakerState(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitBreakerState.Set(1)
	} else {
		m.CircuitBreakerState.Set(0)
	}
}
