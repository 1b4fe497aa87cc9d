package main

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/rtc/internal/logger"
)

// Metrics holds the server's Prometheus collectors. Each server has its own
// registry.
type Metrics struct {
	registry     *prometheus.Registry
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	stepDuration prometheus.Histogram
	ruleResults  *prometheus.CounterVec
}

func counterFrom(name, help string, c *atomic.Int64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, func() float64 {
		return float64(c.Load())
	})
}

// NewMetrics registers the collectors. models reports the number of
// loaded models.
func NewMetrics(models func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtc_http_requests_total",
			Help: "Total count of HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rtc_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rtc_step_duration_seconds",
			Help:    "Histogram of model step durations.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		ruleResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtc_rule_results_total",
			Help: "Rule outcomes of model steps by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}

	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.stepDuration,
		m.ruleResults,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "rtc_models_loaded",
			Help: "Number of models with running engines.",
		}, func() float64 { return float64(models()) }),
		counterFrom("rtc_schema_violations_total", "Schema violations found while decoding models.", &logger.SchemaViolations),
		counterFrom("rtc_diagnostic_errors_total", "Error diagnostics found while decoding models.", &logger.DiagnosticErrors),
		counterFrom("rtc_diagnostic_warnings_total", "Warning diagnostics found while decoding models.", &logger.DiagnosticWarnings),
		counterFrom("rtc_rule_failures_total", "Rules that failed to evaluate during a step.", &logger.RuleFailures),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeStep(d time.Duration) {
	m.stepDuration.Observe(d.Seconds())
}

func (m *Metrics) observeRule(kind string, active, applied, failed bool) {
	outcome := "inactive"
	switch {
	case failed:
		outcome = "failed"
	case applied:
		outcome = "applied"
	case active:
		outcome = "active"
	}
	m.ruleResults.WithLabelValues(kind, outcome).Inc()
}

// instrument records every request by its route pattern, logs it and
// counts error statuses
func (m *Metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		elapsed := time.Since(start)

		m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		logger.HTTPStatus(status)
		logger.Debug("request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
			"requestId", middleware.GetReqID(r.Context()),
		)
	})
}
