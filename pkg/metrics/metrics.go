// Package metrics records dispatch outcomes as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/resource-rpc/pkg/rpcerror"
)

// CodeOK labels successful dispatches.
const CodeOK = "OK"

// Collector implements resource.Observer.
type Collector struct {
	registry *prometheus.Registry
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New creates a collector on its own registry, which also carries the Go
// runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resource_dispatch_total",
			Help: "Resource dispatches by outcome code.",
		}, []string{"resource", "action", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resource_dispatch_duration_seconds",
			Help:    "Resource dispatch latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"resource", "action"}),
	}
	reg.MustRegister(
		c.total,
		c.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveDispatch implements resource.Observer.
func (c *Collector) ObserveDispatch(resource, action string, code rpcerror.Code, elapsed time.Duration) {
	label := string(code)
	if label == "" {
		label = CodeOK
	}
	c.total.WithLabelValues(resource, action, label).Inc()
	c.duration.WithLabelValues(resource, action).Observe(elapsed.Seconds())
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
