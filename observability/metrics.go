// Package observability holds the engine's prometheus instrumentation.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics records dispatcher activity. Constructed explicitly and
// registered against a caller-supplied registry; no process globals.
type EngineMetrics struct {
	EventsApplied *prometheus.CounterVec
	EventsSkipped *prometheus.CounterVec
	BlocksTotal   prometheus.Counter
	CommitSeconds prometheus.Histogram
	SideEffects   prometheus.Counter
}

// NewEngineMetrics builds and registers the engine metric set.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		EventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "melodex",
			Subsystem: "engine",
			Name:      "events_applied_total",
			Help:      "Entity events that produced a new record version, by kind and action.",
		}, []string{"kind", "action"}),
		EventsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "melodex",
			Subsystem: "engine",
			Name:      "events_skipped_total",
			Help:      "Entity events skipped without mutating state, by reason.",
		}, []string{"reason"}),
		BlocksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "melodex",
			Subsystem: "engine",
			Name:      "blocks_committed_total",
			Help:      "Blocks whose mutations reached durable storage.",
		}),
		CommitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "melodex",
			Subsystem: "engine",
			Name:      "commit_seconds",
			Help:      "Latency of the block commit stage.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		SideEffects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "melodex",
			Subsystem: "engine",
			Name:      "side_effects_flushed_total",
			Help:      "Side-effect bus events flushed after commit.",
		}),
	}
	reg.MustRegister(m.EventsApplied, m.EventsSkipped, m.BlocksTotal, m.CommitSeconds, m.SideEffects)
	return m
}

// Skip reasons used by the dispatcher.
const (
	SkipNoHandler   = "no_handler"
	SkipValidation  = "validation"
	SkipSchema      = "schema"
	SkipEnvironment = "environment"
	SkipNoop        = "noop"
	SkipPanic       = "panic"
	SkipMetadata    = "metadata"
)
