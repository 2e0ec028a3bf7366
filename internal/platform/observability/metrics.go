package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "cartfees"

// Metrics holds the Prometheus collectors exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	evaluations        *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	appliedFees        *prometheus.HistogramVec
	toggles            *prometheus.CounterVec
	recordedOrders     prometheus.Counter
	recordedFees       prometheus.Counter
	authVerifications  *prometheus.CounterVec
}

// NewMetrics registers every collector on a dedicated registry together with the Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fee_evaluations_total",
			Help:      "Fee evaluation passes by checkout surface.",
		}, []string{"surface"}),
		evaluationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "fee_evaluation_duration_seconds",
			Help:      "Time spent resolving fees for a cart.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}, []string{"surface"}),
		appliedFees: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "fees_applied_per_cart",
			Help:      "Number of fee lines applied per evaluation.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}, []string{"surface"}),
		toggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fee_toggles_total",
			Help:      "Optional fee selection changes by surface, direction and outcome.",
		}, []string{"surface", "checked", "applied"}),
		recordedOrders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "orders_recorded_total",
			Help:      "Orders with an applied fee record.",
		}),
		recordedFees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "order_fees_recorded_total",
			Help:      "Fee lines frozen onto orders.",
		}),
		authVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auth_verifications_total",
			Help:      "Admin token and webhook signature verifications by outcome.",
		}, []string{"kind", "success", "reason"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.evaluations,
		m.evaluationDuration,
		m.appliedFees,
		m.toggles,
		m.recordedOrders,
		m.recordedFees,
		m.authVerifications,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveEvaluation records one fee evaluation pass.
func (m *Metrics) ObserveEvaluation(surface string, applied int, duration time.Duration) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(surface).Inc()
	m.evaluationDuration.WithLabelValues(surface).Observe(duration.Seconds())
	m.appliedFees.WithLabelValues(surface).Observe(float64(applied))
}

// ObserveToggle records one selection change request.
func (m *Metrics) ObserveToggle(surface string, checked bool, applied bool) {
	if m == nil {
		return
	}
	m.toggles.WithLabelValues(surface, strconv.FormatBool(checked), strconv.FormatBool(applied)).Inc()
}

// ObserveRecorded records a frozen order fee list.
func (m *Metrics) ObserveRecorded(feeCount int) {
	if m == nil {
		return
	}
	m.recordedOrders.Inc()
	m.recordedFees.Add(float64(feeCount))
}

// RecordVerification counts authentication outcomes reported by the auth middlewares.
func (m *Metrics) RecordVerification(_ context.Context, kind string, success bool, reason string, _ time.Duration) {
	if m == nil {
		return
	}
	m.authVerifications.WithLabelValues(kind, strconv.FormatBool(success), reason).Inc()
}

// MetricsMiddleware counts requests by chi route pattern.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := capture(w, r)
			start := time.Now()
			next.ServeHTTP(ww, r)

			route := SanitizeRoute(routePattern(r))
			method := SanitizeMethod(r.Method)
			m.httpRequests.WithLabelValues(route, method, strconv.Itoa(statusOf(ww))).Inc()
			m.httpDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
		})
	}
}
