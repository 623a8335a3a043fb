// ============================================================================
// buildtrace Metrics - Prometheus collector
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
//
// Metrics:
//
//   Counters:
//     - buildtrace_reports_total{outcome}      ok | not_found | invalid | error
//     - buildtrace_entities_total{kind}        added | removed | modified | unchanged
//     - buildtrace_sink_failures_total          sink call errors and rejected rows
//     - buildtrace_snapshots_ingested_total
//     - buildtrace_degraded_tokens_total        tokens read as the unknown sentinel
//
//   Histogram:
//     - buildtrace_report_duration_seconds
//
//   Gauge:
//     - buildtrace_build_latency_ms            latency_ms of the last reported job
//
// Example queries:
//
//   # modified entities per minute
//   rate(buildtrace_entities_total{kind="modified"}[1m])
//
//   # share of report requests that hit a missing snapshot
//   rate(buildtrace_reports_total{outcome="not_found"}[5m]) / rate(buildtrace_reports_total[5m])
//
// ============================================================================

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/buildtrace/pkg/types"
)

// Report outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// Collector holds the service's Prometheus metrics.
type Collector struct {
	reports        *prometheus.CounterVec
	entities       *prometheus.CounterVec
	sinkFailures   prometheus.Counter
	ingested       prometheus.Counter
	degradedTokens prometheus.Counter
	reportDuration prometheus.Histogram
	buildLatency   prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewCollector creates the metrics and registers them with reg.
// A nil reg uses a fresh registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buildtrace_reports_total",
			Help: "Report requests by outcome",
		}, []string{"outcome"}),
		entities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buildtrace_entities_total",
			Help: "Entities classified across all reports, by change kind",
		}, []string{"kind"}),
		sinkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buildtrace_sink_failures_total",
			Help: "Metrics sink call errors and rejected rows",
		}),
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buildtrace_snapshots_ingested_total",
			Help: "Snapshots accepted by the ingestion endpoint",
		}),
		degradedTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buildtrace_degraded_tokens_total",
			Help: "Entities whose state token failed to decode",
		}),
		reportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "buildtrace_report_duration_seconds",
			Help:    "Time to fetch, diff and emit one report",
			Buckets: prometheus.DefBuckets,
		}),
		buildLatency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "buildtrace_build_latency_ms",
			Help: "Build latency reported by the most recently diffed job",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		c.reports,
		c.entities,
		c.sinkFailures,
		c.ingested,
		c.degradedTokens,
		c.reportDuration,
		c.buildLatency,
	)

	return c
}

// ReportGenerated records a successful report.
func (c *Collector) ReportGenerated(rec types.MetricsRecord, elapsed time.Duration) {
	c.reports.WithLabelValues(OutcomeOK).Inc()
	c.entities.WithLabelValues(string(types.ChangeAdded)).Add(float64(rec.TotalAdded))
	c.entities.WithLabelValues(string(types.ChangeRemoved)).Add(float64(rec.TotalRemoved))
	c.entities.WithLabelValues(string(types.ChangeModified)).Add(float64(rec.TotalModified))
	c.entities.WithLabelValues(string(types.ChangeUnchanged)).Add(float64(rec.TotalUnchanged))
	c.reportDuration.Observe(elapsed.Seconds())
	c.buildLatency.Set(float64(rec.LatencyMs))
}

// ReportFailed records a report request that returned an error.
func (c *Collector) ReportFailed(outcome string) {
	c.reports.WithLabelValues(outcome).Inc()
}

// SinkFailed records a sink call error or rejected row.
func (c *Collector) SinkFailed() {
	c.sinkFailures.Inc()
}

// TokensDegraded records n entities whose token was malformed.
func (c *Collector) TokensDegraded(n int) {
	c.degradedTokens.Add(float64(n))
}

// SnapshotIngested records one stored snapshot.
func (c *Collector) SnapshotIngested() {
	c.ingested.Inc()
}

// Handler serves the collector's registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
