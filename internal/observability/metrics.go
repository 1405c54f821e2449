package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the counters recorded over a single action run.
type Metrics struct {
	registry *prometheus.Registry
	runs     *prometheus.CounterVec
	exits    *prometheus.CounterVec
	reports  *prometheus.CounterVec
	duration prometheus.Histogram
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "treebeard_action_runs_total",
		Help: "Total runs by interpreted outcome.",
	}, []string{"outcome"})
	exits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "treebeard_action_child_exit_total",
		Help: "Total child process exits by raw status code.",
	}, []string{"code"})
	reports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "treebeard_action_usage_reports_total",
		Help: "Total usage reports by delivery result.",
	}, []string{"delivered"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "treebeard_action_child_duration_seconds",
		Help:    "Wall clock duration of the child process.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})

	registry.MustRegister(runs, exits, reports, duration)

	return &Metrics{
		registry: registry,
		runs:     runs,
		exits:    exits,
		reports:  reports,
		duration: duration,
	}
}

// Gatherer exposes the private registry for tests and text export.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// WriteTextfile writes the collected metrics in the node exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Gatherer())
}

func (m *Metrics) IncRun(outcome string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncExit(code int) {
	if m == nil || m.exits == nil {
		return
	}
	m.exits.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) IncUsageReport(delivered bool) {
	if m == nil || m.reports == nil {
		return
	}
	m.reports.WithLabelValues(strconv.FormatBool(delivered)).Inc()
}

// UsageReports returns the report counter for one delivery label.
func (m *Metrics) UsageReports(delivered string) prometheus.Counter {
	return m.reports.WithLabelValues(delivered)
}

// Runs returns the run counter for one outcome label.
func (m *Metrics) Runs(outcome string) prometheus.Counter {
	return m.runs.WithLabelValues(outcome)
}

func (m *Metrics) ObserveChild(d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}
