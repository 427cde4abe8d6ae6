package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors exports ledger metrics to Prometheus.
type Collectors struct {
	operations   *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewCollectors registers the ledger collectors on reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fxledger",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Ledger operations by name and result",
			},
			[]string{"operation", "result"},
		),
		opDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fxledger",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Duration of ledger operations",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"operation"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fxledger",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fxledger",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests",
			},
			[]string{"method", "route"},
		),
	}
}

// ObserveOperation records one engine operation.
func (c *Collectors) ObserveOperation(operation, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.operations.WithLabelValues(operation, result).Inc()
	c.opDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveRequest records one HTTP request.
func (c *Collectors) ObserveRequest(method, route, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, status).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
