// Package telemetry exposes hello server activity as Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/patrykstefanski/async-bench/internal/server"
)

const namespace = "asyncbench"

// Compile-time interface satisfaction check.
var _ server.Observer = (*Collector)(nil)

// Collector counts server events. It implements server.Observer and owns its
// own registry, so several collectors can coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	connsTotal  prometheus.Counter
	connsActive prometheus.Gauge
	requests    prometheus.Counter
	ioErrors    *prometheus.CounterVec
	timeouts    *prometheus.CounterVec
}

// NewCollector creates a collector and registers its metrics together with
// the Go runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		connsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted connections.",
		}),
		connsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of open connections.",
		}),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of responses written.",
		}),
		ioErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "io_errors_total",
			Help:      "Total number of connections dropped because of an I/O error.",
		}, []string{"op"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timeouts_total",
			Help:      "Total number of connections dropped because a read or write timed out.",
		}, []string{"op"}),
	}

	c.registry.MustRegister(
		c.connsTotal,
		c.connsActive,
		c.requests,
		c.ioErrors,
		c.timeouts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) ConnOpened() {
	c.connsTotal.Inc()
	c.connsActive.Inc()
}

func (c *Collector) ConnClosed() {
	c.connsActive.Dec()
}

func (c *Collector) RequestServed() {
	c.requests.Inc()
}

func (c *Collector) IOError(op string, _ error) {
	c.ioErrors.WithLabelValues(op).Inc()
}

func (c *Collector) Timeout(op string) {
	c.timeouts.WithLabelValues(op).Inc()
}
