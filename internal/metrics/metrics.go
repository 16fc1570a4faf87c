// Package metrics exposes Prometheus collectors for the HTTP API and the batch
// identity core. All methods are nil-safe so callers can run without metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coffee_trace"

type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
	batchesCreated prometheus.Counter
	codeRetries    prometheus.Counter
	qrIssued       *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	wsClients      prometheus.Gauge
}

// New registers every collector on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		batchesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_created_total",
			Help:      "Harvest batches persisted.",
		}),
		codeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_code_retries_total",
			Help:      "Batch code regenerations after a uniqueness conflict.",
		}),
		qrIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qr_artifacts_total",
			Help:      "QR artifact requests by outcome (issued, existing, cached, failed).",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_status_transitions_total",
			Help:      "Batch status transitions by target status.",
		}, []string{"to"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected websocket clients.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpLatency,
		m.batchesCreated,
		m.codeRetries,
		m.qrIssued,
		m.transitions,
		m.wsClients,
	)
	return m
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency keyed by the matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		started := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpLatency.WithLabelValues(route).Observe(time.Since(started).Seconds())
	}
}

func (m *Metrics) BatchCreated() {
	if m != nil {
		m.batchesCreated.Inc()
	}
}

func (m *Metrics) BatchCodeRetry() {
	if m != nil {
		m.codeRetries.Inc()
	}
}

func (m *Metrics) QRArtifact(outcome string) {
	if m != nil {
		m.qrIssued.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) StatusTransition(to string) {
	if m != nil {
		m.transitions.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) WebsocketClients(delta float64) {
	if m != nil {
		m.wsClients.Add(delta)
	}
}
