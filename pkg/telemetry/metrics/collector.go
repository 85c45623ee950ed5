package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mercator-hq/gatekeeper/pkg/config"
)

// Collector owns the process registry.
type Collector struct {
	namespace string
	registry  *prometheus.Registry
	http      *HTTPMetrics
}

// NewCollector creates a registry with runtime collectors and HTTP
// metrics. A nil cfg selects the default namespace.
func NewCollector(cfg *config.MetricsConfig) *Collector {
	namespace := config.DefaultMetricsNamespace
	if cfg != nil && cfg.Namespace != "" {
		namespace = cfg.Namespace
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Collector{
		namespace: namespace,
		registry:  registry,
		http:      newHTTPMetrics(namespace, registry),
	}
}

// Namespace returns the metric name prefix.
func (c *Collector) Namespace() string {
	return c.namespace
}

// Registerer is where components register their collectors.
func (c *Collector) Registerer() prometheus.Registerer {
	return c.registry
}

// Gatherer exposes the registry for scraping and tests.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}

// HTTP returns the ops-server request metrics.
func (c *Collector) HTTP() *HTTPMetrics {
	return c.http
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
