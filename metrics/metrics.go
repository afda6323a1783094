// The metrics package collects Prometheus metrics for the post-processing
// system: UBX frames decoded, correction files fetched, external tool runs
// and jobs.  A nil *Metrics is valid and records nothing, so components
// can be used without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "rtkpost"

// Outcomes of a correction file lookup.
const (
	OutcomeCached  = "cached"
	OutcomeFetched = "fetched"
	OutcomeFailed  = "failed"
)

// Metrics holds the collectors, registered in a registry of their own.
type Metrics struct {
	registry *prometheus.Registry

	frames            *prometheus.CounterVec
	correctionLookups *prometheus.CounterVec
	toolRuns          *prometheus.CounterVec
	jobs              *prometheus.CounterVec
	jobDuration       prometheus.Histogram
	solutions         prometheus.Counter
}

// New creates the collectors and registers them.
func New() *Metrics {
	m := Metrics{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ubx_messages_total",
			Help:      "UBX messages decoded, by kind.",
		}, []string{"kind"}),
		correctionLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correction_files_total",
			Help:      "Correction file lookups, by file kind and outcome.",
		}, []string{"kind", "outcome"}),
		toolRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_runs_total",
			Help:      "External tool runs, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Post-processing jobs finished, by final state.",
		}, []string{"state"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time taken by post-processing jobs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		solutions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solutions_total",
			Help:      "RTK solutions stored.",
		}),
	}

	m.registry.MustRegister(m.frames, m.correctionLookups, m.toolRuns,
		m.jobs, m.jobDuration, m.solutions)

	return &m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Push sends the metrics to a Prometheus push gateway.  It's used by the
// command line tool, which doesn't live long enough to be scraped.
func (m *Metrics) Push(gatewayURL, job string) error {
	if m == nil {
		return nil
	}
	return push.New(gatewayURL, job).Gatherer(m.registry).Push()
}

// MessageDecoded counts a UBX message of the given kind.
func (m *Metrics) MessageDecoded(kind string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(kind).Inc()
}

// CorrectionLookup counts a correction file lookup.
func (m *Metrics) CorrectionLookup(kind, outcome string) {
	if m == nil {
		return
	}
	m.correctionLookups.WithLabelValues(kind, outcome).Inc()
}

// ToolRun counts a run of an external tool.
func (m *Metrics) ToolRun(tool string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.toolRuns.WithLabelValues(tool, outcome).Inc()
}

// JobFinished counts a job reaching its final state.
func (m *Metrics) JobFinished(state string, elapsed time.Duration, solutions int) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(state).Inc()
	m.jobDuration.Observe(elapsed.Seconds())
	m.solutions.Add(float64(solutions))
}
