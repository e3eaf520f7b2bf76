// Package metrics exposes Prometheus counters for benchmark activity.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the benchmark counters. A nil *Recorder is valid and
// records nothing, so callers never need to check.
//
// Metrics:
//   - mcpeval_transitions_total{from,to} - state transitions performed
//   - mcpeval_awards_total{check,status} - rubric awards recorded
//   - mcpeval_runs_finalized_total{success} - runs finalized
//   - mcpeval_rejected_actions_total{state,action} - actions rejected as illegal
//   - mcpeval_sessions_active - sessions currently held in the registry
type Recorder struct {
	Transitions     *prometheus.CounterVec
	Awards          *prometheus.CounterVec
	RunsFinalized   *prometheus.CounterVec
	RejectedActions *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
}

// New creates a Recorder and registers its collectors with reg.
// Use a fresh prometheus.NewRegistry() per server (and per test) to avoid
// duplicate registration panics.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpeval_transitions_total",
				Help: "Total number of benchmark state transitions",
			},
			[]string{"from", "to"},
		),
		Awards: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpeval_awards_total",
				Help: "Total number of rubric awards by check and status",
			},
			[]string{"check", "status"},
		),
		RunsFinalized: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpeval_runs_finalized_total",
				Help: "Total number of finalized benchmark runs",
			},
			[]string{"success"},
		),
		RejectedActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpeval_rejected_actions_total",
				Help: "Total number of actions rejected for the current state",
			},
			[]string{"state", "action"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcpeval_sessions_active",
				Help: "Number of sessions currently registered",
			},
		),
	}
}

// Transition counts a state change.
func (r *Recorder) Transition(from, to string) {
	if r == nil {
		return
	}
	r.Transitions.WithLabelValues(from, to).Inc()
}

// Award counts a rubric award.
func (r *Recorder) Award(check, status string) {
	if r == nil {
		return
	}
	r.Awards.WithLabelValues(check, status).Inc()
}

// Finalized counts a finalized run.
func (r *Recorder) Finalized(success bool) {
	if r == nil {
		return
	}
	r.RunsFinalized.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// Rejected counts an action that was not legal in state.
func (r *Recorder) Rejected(state, action string) {
	if r == nil {
		return
	}
	r.RejectedActions.WithLabelValues(state, action).Inc()
}

// SessionOpened increments the active session gauge.
func (r *Recorder) SessionOpened() {
	if r == nil {
		return
	}
	r.ActiveSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func (r *Recorder) SessionClosed() {
	if r == nil {
		return
	}
	r.ActiveSessions.Dec()
}
