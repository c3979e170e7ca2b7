// Package metrics records run results in a private Prometheus registry and exports them
// in the node_exporter textfile format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Statuses reported per result; exactly one is 1 for each service.
var Statuses = []string{"pass", "fail", "skip"}

// Metrics holds all Prometheus metrics for one harness invocation
type Metrics struct {
	registry *prometheus.Registry

	Result          *prometheus.GaugeVec
	Duration        *prometheus.GaugeVec
	HTTPRequests    *prometheus.CounterVec
	LastRunSeconds  prometheus.Gauge
	FailedServices  prometheus.Gauge
	SkippedServices prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	result := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stackcheck_result",
			Help: "Outcome of the last run per check; 1 for the reported status, 0 otherwise",
		},
		[]string{"check", "kind", "status"},
	)

	duration := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stackcheck_duration_seconds",
			Help: "Wall time of the last run per check",
		},
		[]string{"check", "kind"},
	)

	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackcheck_http_requests_total",
			Help: "Out-of-band HTTP requests made by the harness by method and status code",
		},
		[]string{"code", "method"},
	)

	lastRun := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stackcheck_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		},
	)

	failed := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stackcheck_failed_checks",
			Help: "Number of checks that failed in the last run",
		},
	)

	skipped := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stackcheck_skipped_checks",
			Help: "Number of checks skipped for missing credentials in the last run",
		},
	)

	registry.MustRegister(result, duration, httpRequests, lastRun, failed, skipped)

	return &Metrics{
		registry:        registry,
		Result:          result,
		Duration:        duration,
		HTTPRequests:    httpRequests,
		LastRunSeconds:  lastRun,
		FailedServices:  failed,
		SkippedServices: skipped,
	}
}

// RecordResult sets the status gauges and duration for one check.
func (m *Metrics) RecordResult(check, kind, status string, seconds float64) {
	for _, s := range Statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.Result.WithLabelValues(check, kind, s).Set(v)
	}
	m.Duration.WithLabelValues(check, kind).Set(seconds)
}

// RecordRun sets the run-level gauges.
func (m *Metrics) RecordRun(failed, skipped int, finishedUnix float64) {
	m.FailedServices.Set(float64(failed))
	m.SkippedServices.Set(float64(skipped))
	m.LastRunSeconds.Set(finishedUnix)
}

// InstrumentRoundTripper counts requests made through next.
func (m *Metrics) InstrumentRoundTripper(next http.RoundTripper) http.RoundTripper {
	return promhttp.InstrumentRoundTripperCounter(m.HTTPRequests, next)
}

// WriteTextfile atomically writes all metrics to path for the textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
