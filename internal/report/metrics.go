package report

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Vayra-9/uiprobe/internal/models"
)

// Metrics holds the collectors describing one suite run. They live on a
// private registry so a run never touches the global one.
type Metrics struct {
	Registry   *prometheus.Registry
	Runs       *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Assertions *prometheus.CounterVec
	Tolerated  prometheus.Counter
}

// NewMetrics creates and registers the collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "uiprobe",
				Name:      "runs_total",
				Help:      "Total number of scenario runs by final status",
			},
			[]string{"scenario", "profile", "status"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "uiprobe",
				Name:      "run_duration_seconds",
				Help:      "Scenario run duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
			},
			[]string{"scenario", "profile"},
		),
		Assertions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "uiprobe",
				Name:      "assertions_total",
				Help:      "Total number of evaluated assertions by result",
			},
			[]string{"result"},
		),
		Tolerated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "uiprobe",
				Name:      "tolerated_steps_total",
				Help:      "Total number of non-critical steps that failed and were skipped over",
			},
		),
	}
	m.Registry.MustRegister(m.Runs, m.Duration, m.Assertions, m.Tolerated)
	return m
}

// Observe records every result of r
func (m *Metrics) Observe(r models.Report) {
	for _, res := range r.Results {
		m.Runs.WithLabelValues(res.Scenario, res.Profile, string(res.Outcome)).Inc()
		m.Duration.WithLabelValues(res.Scenario, res.Profile).Observe(res.Duration.Seconds())
		m.Tolerated.Add(float64(res.Tolerated))
		for _, a := range res.Assertions {
			switch {
			case a.Passed:
				m.Assertions.WithLabelValues("passed").Inc()
			case a.Blocking():
				m.Assertions.WithLabelValues("failed").Inc()
			default:
				m.Assertions.WithLabelValues("warning").Inc()
			}
		}
	}
}

// WriteMetrics writes the metrics of r to path in the Prometheus text
// format, for node_exporter's textfile collector
func WriteMetrics(path string, r models.Report) error {
	m := NewMetrics()
	m.Observe(r)
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
