package position

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeApplied = "applied"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

// Metrics counts handler outcomes and lifecycle transitions.
type Metrics struct {
	events      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewMetrics registers the engine metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "position",
			Name:      "events_total",
			Help:      "Position events handled, by event and outcome.",
		}, []string{"event", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "position",
			Name:      "transitions_total",
			Help:      "Position lifecycle transitions.",
		}, []string{"transition"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "position",
			Name:      "handle_duration_seconds",
			Help:      "Time spent handling one position event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event"}),
	}
	reg.MustRegister(m.events, m.transitions, m.duration)
	return m
}

func (m *Metrics) observe(event string, err error) {
	outcome := outcomeApplied
	if abort, ok := AsAbort(err); ok {
		outcome = abort.Kind.String()
	} else if err != nil {
		outcome = outcomeFailed
	}
	m.events.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) skipped(event string) {
	m.events.WithLabelValues(event, outcomeSkipped).Inc()
}

func (m *Metrics) transition(t transition) {
	if t == transitionNone {
		return
	}
	m.transitions.WithLabelValues(t.String()).Inc()
}
