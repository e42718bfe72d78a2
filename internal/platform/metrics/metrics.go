// Package metrics exposes the voting node's schedule counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voting_node"

// Schedule counts step and run outcomes. It satisfies schedule.Observer.
type Schedule struct {
	registry *prometheus.Registry
	steps    *prometheus.CounterVec
	runs     *prometheus.CounterVec
}

// NewSchedule registers the schedule counters on registry. A nil registry gets
// a fresh one.
func NewSchedule(registry *prometheus.Registry, role string) *Schedule {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	labels := prometheus.Labels{"role": role}

	m := &Schedule{
		registry: registry,
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "schedule",
			Name:        "step_total",
			Help:        "Step executions by step identifier and result (ok, error, restart).",
			ConstLabels: labels,
		}, []string{"step", "result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "schedule",
			Name:        "runs_total",
			Help:        "Schedule run attempts by result (ok, error, restart).",
			ConstLabels: labels,
		}, []string{"result"}),
	}
	registry.MustRegister(m.steps, m.runs)
	return m
}

func (m *Schedule) StepFinished(step string, result string) {
	m.steps.WithLabelValues(step, result).Inc()
}

func (m *Schedule) RunFinished(result string) {
	m.runs.WithLabelValues(result).Inc()
}

func (m *Schedule) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
