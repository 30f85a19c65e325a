// Package metrics exposes the WAF proxy's counters and histograms as real
// Prometheus collectors — the exposition format itself is treated as an
// external collaborator (spec §1) and is left entirely to
// promhttp.HandlerFor rather than hand-rolled text output.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the data plane updates per request or per
// config reload.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	WAFVerdictsTotal *prometheus.CounterVec
	RateLimitedTotal prometheus.Counter
	UpstreamErrors   *prometheus.CounterVec

	ConfigVersionInfo         *prometheus.GaugeVec
	ConfigReloadSuccessTotal  prometheus.Counter
	ConfigReloadFailureTotal  prometheus.Counter
	ConfigLastReloadTimestamp prometheus.Gauge
}

// New registers and returns the full collector set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waf_requests_total",
			Help: "Total requests handled by the pipeline, by terminal outcome.",
		}, []string{"outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "waf_request_duration_seconds",
			Help:    "End-to-end request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		WAFVerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waf_verdicts_total",
			Help: "Rule engine verdicts, by kind.",
		}, []string{"verdict"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waf_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upstream_errors_total",
			Help: "Forwarder failures, by error_type.",
		}, []string{"error_type"}),
		ConfigVersionInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "waf_config_version_info",
			Help: "Always 1; the current config version is the `version` label.",
		}, []string{"version"}),
		ConfigReloadSuccessTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waf_config_reload_success_total",
			Help: "Successful hot reloads.",
		}),
		ConfigReloadFailureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waf_config_reload_failure_total",
			Help: "Reload attempts rejected by validation or poll failure.",
		}),
		ConfigLastReloadTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "waf_config_last_reload_timestamp_seconds",
			Help: "Unix timestamp of the last successful reload.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.WAFVerdictsTotal,
		m.RateLimitedTotal,
		m.UpstreamErrors,
		m.ConfigVersionInfo,
		m.ConfigReloadSuccessTotal,
		m.ConfigReloadFailureTotal,
		m.ConfigLastReloadTimestamp,
	)

	return m
}

// Handler serves the registry in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveReload records a reload outcome. On success it also republishes the
// version gauge, clearing the previous version's series so only the current
// one reads 1.
func (m *Metrics) ObserveReload(success bool, version string, reloadedAtUnix float64) {
	if success {
		m.ConfigReloadSuccessTotal.Inc()
		m.ConfigVersionInfo.Reset()
		m.ConfigVersionInfo.WithLabelValues(version).Set(1)
		m.ConfigLastReloadTimestamp.Set(reloadedAtUnix)
		return
	}
	m.ConfigReloadFailureTotal.Inc()
}
