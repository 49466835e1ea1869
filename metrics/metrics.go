// Package metrics holds the gateway's Prometheus instruments. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Token validation results.
const (
	ResultValid   = "valid"
	ResultInvalid = "invalid"
	ResultMissing = "missing"
)

// Metrics groups the gateway instruments on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	TokenValidations   *prometheus.CounterVec
	DependencyFailures *prometheus.CounterVec
	UpstreamResponses  *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

// New creates the instruments and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TokenValidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_token_validations_total",
				Help: "Bearer token checks by result and reason.",
			},
			[]string{"result", "reason"},
		),
		DependencyFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_dependency_failures_total",
				Help: "Failures reaching the identity provider or the upstream.",
			},
			[]string{"dependency"},
		),
		UpstreamResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_responses_total",
				Help: "Upstream responses by HTTP status code.",
			},
			[]string{"code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "Latency of gateway HTTP requests.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
			},
			[]string{"route", "method", "status"},
		),
	}
	m.registry.MustRegister(
		m.TokenValidations,
		m.DependencyFailures,
		m.UpstreamResponses,
		m.RequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveValidation(result, reason string) {
	if m == nil {
		return
	}
	m.TokenValidations.WithLabelValues(result, reason).Inc()
}

func (m *Metrics) ObserveDependencyFailure(dependency string) {
	if m == nil {
		return
	}
	m.DependencyFailures.WithLabelValues(dependency).Inc()
}

func (m *Metrics) ObserveUpstream(status int) {
	if m == nil {
		return
	}
	m.UpstreamResponses.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
