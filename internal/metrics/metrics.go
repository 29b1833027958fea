// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Quote outcomes.
const (
	OutcomePriced     = "priced"
	OutcomeIneligible = "ineligible"
	OutcomeNoOptions  = "no_options"
	OutcomeNotFound   = "not_found"
	OutcomeError      = "error"
)

// Metrics groups every collector on its own registry so that several
// instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	Quotes          *prometheus.CounterVec
	QuoteDuration   *prometheus.HistogramVec
	SkippedVariants *prometheus.CounterVec
	MatrixCache     *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
	RateLimited     *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// New creates and registers all collectors, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Quotes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loanpricer_quotes_total",
				Help: "Quotes computed by outcome",
			},
			[]string{"program", "outcome"},
		),

		QuoteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loanpricer_quote_duration_seconds",
				Help:    "Time to price a quote across its lenders",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"program"},
		),

		SkippedVariants: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loanpricer_skipped_variants_total",
				Help: "Product variants dropped during pricing by reason",
			},
			[]string{"lender", "reason"},
		),

		MatrixCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loanpricer_matrix_cache_total",
				Help: "Matrix lookups by cache layer and result",
			},
			[]string{"layer", "result"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "loanpricer_store_breaker_state",
				Help: "Matrix store circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),

		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loanpricer_rate_limited_total",
				Help: "Requests rejected by the per-tenant rate limiter",
			},
			[]string{"tenant"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loanpricer_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"method", "route", "status"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loanpricer_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		m.Quotes,
		m.QuoteDuration,
		m.SkippedVariants,
		m.MatrixCache,
		m.BreakerState,
		m.RateLimited,
		m.HTTPRequests,
		m.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// The recording helpers below are no-ops on a nil *Metrics.

// ObserveQuote records one quote outcome and its latency.
func (m *Metrics) ObserveQuote(program, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Quotes.WithLabelValues(program, outcome).Inc()
	m.QuoteDuration.WithLabelValues(program).Observe(d.Seconds())
}

// SkippedVariant counts a variant that could not be priced.
func (m *Metrics) SkippedVariant(lenderID, reason string) {
	if m == nil {
		return
	}
	m.SkippedVariants.WithLabelValues(lenderID, reason).Inc()
}

// CacheLookup counts a matrix lookup at the given layer.
func (m *Metrics) CacheLookup(layer string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.MatrixCache.WithLabelValues(layer, result).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// BreakerChanged records a circuit breaker state transition.
func (m *Metrics) BreakerChanged(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// RateLimitRejected counts a request refused by the limiter.
func (m *Metrics) RateLimitRejected(tenantID string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(tenantID).Inc()
}
