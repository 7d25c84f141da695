// Package metrics holds the Prometheus collectors for the HTTP surface and
// the key-value adapter.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so tests can build isolated instances.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	KVOperationsTotal   *prometheus.CounterVec
	KVOperationDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "todo_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "todo_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		KVOperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "todo_kv_operations_total",
				Help: "Total number of key-value store operations",
			},
			[]string{"backend", "op", "result"},
		),
		KVOperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "todo_kv_operation_duration_seconds",
				Help:    "Key-value store operation latency in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"backend", "op", "result"},
		),
	}
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	class := StatusClass(status)
	m.HTTPRequestsTotal.WithLabelValues(method, route, class).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route, class).Observe(d.Seconds())
}

func (m *Metrics) RecordKVOperation(backend, op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.KVOperationsTotal.WithLabelValues(backend, op, result).Inc()
	m.KVOperationDuration.WithLabelValues(backend, op, result).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// StatusClass collapses a status code into 2xx/3xx/4xx/5xx.
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
