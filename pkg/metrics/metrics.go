package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GatewayMetrics holds the Prometheus metrics for the data-plane gateway.
type GatewayMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	AuditDropped    prometheus.Counter
}

// NewGatewayMetrics initializes and registers the gateway metrics.
func NewGatewayMetrics() *GatewayMetrics {
	return &GatewayMetrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "basehub",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Completed data-plane requests by tenant, trust level and status.",
		}, []string{"tenant", "trust", "status"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "basehub",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Data-plane request duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tenant"}),
		AuditDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "basehub",
			Subsystem: "audit",
			Name:      "dropped_records_total",
			Help:      "Audit records dropped because the queue was full.",
		}),
	}
}
