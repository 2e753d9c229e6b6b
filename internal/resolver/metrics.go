package resolver

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report resolver activity. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	decisions      *prometheus.CounterVec
	fallbackCalls  *prometheus.CounterVec
	handleDuration prometheus.Histogram
	sessions       *prometheus.CounterVec
}

// MustNewMetrics constructs a Metrics instance using the provided registerer. A nil
// registerer selects the default one. Collectors already registered under the same
// names are reused, so building several engines in one process is safe; any other
// registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tasknerd",
				Subsystem: "resolver",
				Name:      "decisions_total",
				Help:      "Resolver decisions by outcome.",
			},
			[]string{"outcome"},
		),
		fallbackCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tasknerd",
				Subsystem: "resolver",
				Name:      "fallback_calls_total",
				Help:      "Reasoning service consultations by result.",
			},
			[]string{"result"},
		),
		handleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "tasknerd",
				Subsystem: "resolver",
				Name:      "handle_duration_seconds",
				Help:      "Time spent resolving one message, fallback included.",
				Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tasknerd",
				Subsystem: "session",
				Name:      "transitions_total",
				Help:      "Pending session transitions by action.",
			},
			[]string{"action"},
		),
	}
	m.decisions = register(reg, m.decisions)
	m.fallbackCalls = register(reg, m.fallbackCalls)
	m.handleDuration = register(reg, m.handleDuration)
	m.sessions = register(reg, m.sessions)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveDecision counts a decision and records how long it took.
func (m *Metrics) ObserveDecision(outcome Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(outcome)).Inc()
	m.handleDuration.Observe(elapsed.Seconds())
}

// ObserveFallback counts a reasoning service call. Its signature matches
// perception.FallbackConfig.OnResult.
func (m *Metrics) ObserveFallback(result string, _ time.Duration) {
	if m == nil {
		return
	}
	m.fallbackCalls.WithLabelValues(result).Inc()
}

// ObserveSession counts a session transition.
func (m *Metrics) ObserveSession(action SessionAction) {
	if m == nil || action == SessionNone {
		return
	}
	m.sessions.WithLabelValues(action.String()).Inc()
}
