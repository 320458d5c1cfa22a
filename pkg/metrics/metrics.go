// Package metrics exports proxy metrics in the Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the proxy collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	cacheHitsTotal   prometheus.Counter
	cacheMissesTotal *prometheus.CounterVec
	cacheErrorsTotal *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	upstreamErrors   *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "grache",
				Name:      "requests_total",
				Help:      "Requests handled, by body kind and response status",
			},
			[]string{"body", "status"},
		),
		cacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "grache",
				Name:      "cache_hits_total",
				Help:      "Requests served from the cache",
			},
		),
		cacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "grache",
				Name:      "cache_misses_total",
				Help:      "Requests forwarded to the upstream, by reason",
			},
			[]string{"reason"},
		),
		cacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "grache",
				Name:      "cache_errors_total",
				Help:      "Failed cache backend operations",
			},
			[]string{"op"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "grache",
				Name:      "upstream_duration_seconds",
				Help:      "Upstream request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"status"},
		),
		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "grache",
				Name:      "upstream_errors_total",
				Help:      "Failed upstream requests",
			},
			[]string{"kind"},
		),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.requestsTotal,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.cacheErrorsTotal,
		m.upstreamDuration,
		m.upstreamErrors,
	)
	return m
}

func (m *Metrics) RecordRequest(body string, status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(body, strconv.Itoa(status)).Inc()
}

func (m *Metrics) RecordHit() {
	if m == nil {
		return
	}
	m.cacheHitsTotal.Inc()
}

func (m *Metrics) RecordMiss(reason string) {
	if m == nil {
		return
	}
	m.cacheMissesTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordCacheError(op string) {
	if m == nil {
		return
	}
	m.cacheErrorsTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordUpstream(status int, took time.Duration) {
	if m == nil {
		return
	}
	m.upstreamDuration.WithLabelValues(strconv.Itoa(status)).Observe(took.Seconds())
}

func (m *Metrics) RecordUpstreamError(kind string) {
	if m == nil {
		return
	}
	m.upstreamErrors.WithLabelValues(kind).Inc()
}

// Handler serves the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
