package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snehendu098/rayfine/internal/agent"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/network"
)

const namespace = "rayfine"

// Collector owns a private Prometheus registry with the wallet's collectors.
type Collector struct {
	registry *prometheus.Registry

	actions          *prometheus.CounterVec
	actionDuration   *prometheus.HistogramVec
	registryFallback prometheus.Counter
	httpInFlight     prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpErrors       *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

var _ agent.Observer = (*Collector)(nil)

// New builds a Collector. Process and Go runtime collectors are included.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "total",
			Help:      "Orchestrated actions by kind, network, outcome and error kind.",
		}, []string{"kind", "network", "outcome", "error_kind"}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "duration_seconds",
			Help:      "Time from validation to confirmed receipt or failure.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind", "outcome"}),
		registryFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokens",
			Name:      "registry_fallbacks_total",
			Help:      "Token list failures answered with the native asset only.",
		}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"handler", "method"}),
	}
	c.registry.MustRegister(
		c.actions,
		c.actionDuration,
		c.registryFallback,
		c.httpInFlight,
		c.httpRequests,
		c.httpErrors,
		c.httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// ActionFinished implements agent.Observer.
func (c *Collector) ActionFinished(kind agent.Kind, net network.ID, elapsed time.Duration, err *xerrors.Error) {
	outcome, errKind := "success", ""
	if err != nil {
		outcome, errKind = "failure", string(err.Code())
	}
	c.actions.WithLabelValues(string(kind), string(net), outcome, errKind).Inc()
	c.actionDuration.WithLabelValues(string(kind), outcome).Observe(elapsed.Seconds())
}

// RegistryFallback counts a fail-open token list resolution. Its signature
// matches tokens.WithFallbackHook.
func (c *Collector) RegistryFallback(error) {
	c.registryFallback.Inc()
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (c *Collector) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	method = strings.ToUpper(method)
	c.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		c.httpErrors.WithLabelValues(handler, method).Inc()
	}
	c.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
