package metric

import (
	stderrors "errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/billboard/errors"
)

// MetricsRegistry owns the Prometheus registry behind /metrics: the shared
// core metrics, the Go and process collectors, and any collectors a component
// adds under its own name
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics

	mu    sync.RWMutex
	extra map[string]prometheus.Collector
}

// NewMetricsRegistry creates a registry with the core metrics registered
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		Metrics:            NewMetrics(),
		extra:              make(map[string]prometheus.Collector),
	}
	r.prometheusRegistry.MustRegister(r.Metrics.collectors()...)
	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the shared metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

func key(owner, name string) string {
	return owner + "." + name
}

// Register adds c under owner.name. A second collector under the same key, or
// one whose descriptors clash in Prometheus, is an invalid error.
func (r *MetricsRegistry) Register(owner, name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(owner, name)
	if _, exists := r.extra[k]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: metric %s already registered", errors.ErrInvalidConfig, k),
			"MetricsRegistry", "Register", "check duplicate")
	}

	if err := r.prometheusRegistry.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if stderrors.As(err, &already) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register", "register "+k)
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register", "register "+k)
	}
	r.extra[k] = c
	return nil
}

// Unregister removes the collector under owner.name
func (r *MetricsRegistry) Unregister(owner, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(owner, name)
	c, exists := r.extra[k]
	if !exists {
		return false
	}
	if !r.prometheusRegistry.Unregister(c) {
		return false
	}
	delete(r.extra, k)
	return true
}

// Registered lists the owner.name keys of added collectors, sorted
func (r *MetricsRegistry) Registered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.extra))
	for k := range r.extra {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RegisterBuildInfo exposes billboard_build_info{version,build_time} = 1
func (r *MetricsRegistry) RegisterBuildInfo(owner, version, buildTime string) error {
	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information of the running binary",
	}, []string{"version", "build_time"})
	info.WithLabelValues(version, buildTime).Set(1)
	return r.Register(owner, "build_info", info)
}
