// Package metrics holds the Prometheus collectors for the component
// engine. A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zjrosen/tessera/internal/component"
)

const namespace = "tessera"

// Metrics records lifecycle activity.
type Metrics struct {
	transitions   *prometheus.CounterVec
	hookFailures  *prometheus.CounterVec
	hookDuration  *prometheus.HistogramVec
	rollbacks     *prometheus.CounterVec
	liveInstances prometheus.Gauge
	resolveErrors *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg
// returns nil, which disables metrics.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Lifecycle state transitions by target state",
		}, []string{"component", "state"}),
		hookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_failures_total",
			Help:      "Lifecycle hook failures, timeouts included",
		}, []string{"component", "phase"}),
		hookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hook_duration_seconds",
			Help:      "Duration of lifecycle hooks",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"phase"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Batches or subtrees torn down after a failure",
		}, []string{"stage"}),
		liveInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_instances",
			Help:      "Instances constructed and not yet destroyed",
		}),
		resolveErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_errors_total",
			Help:      "Failed resolutions by error class",
		}, []string{"class"}),
	}

	for _, c := range []prometheus.Collector{
		m.transitions, m.hookFailures, m.hookDuration, m.rollbacks, m.liveInstances, m.resolveErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

// Transition counts inst entering state. Constructed and Destroyed also
// move the live-instance gauge.
func (m *Metrics) Transition(inst *component.Instance, to component.State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(inst.Name(), to.String()).Inc()
	switch to {
	case component.StateConstructed:
		m.liveInstances.Inc()
	case component.StateDestroyed:
		m.liveInstances.Dec()
	}
}

// Hook records one hook run.
func (m *Metrics) Hook(inst *component.Instance, phase component.Phase, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.hookDuration.WithLabelValues(string(phase)).Observe(d.Seconds())
	if err != nil {
		m.hookFailures.WithLabelValues(inst.Name(), string(phase)).Inc()
	}
}

// Rollback counts a teardown after a failure. stage is "build" or "mount".
func (m *Metrics) Rollback(stage string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(stage).Inc()
}

// ResolveError counts a failed resolution.
func (m *Metrics) ResolveError(class component.ErrorClass) {
	if m == nil {
		return
	}
	m.resolveErrors.WithLabelValues(class.String()).Inc()
}
