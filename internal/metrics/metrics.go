// Package metrics provides Prometheus metrics for the session timer and lifecycle.
// Labels never carry session ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TimerTicksTotal counts completed timer worker passes.
	TimerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consult_timer_ticks_total",
		Help: "Total number of timer worker ticks.",
	})

	// TimerTickDuration observes how long one pass over the active sessions takes.
	TimerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "consult_timer_tick_duration_seconds",
		Help:    "Duration of a timer worker tick.",
		Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1},
	})

	// TimerSelfHealTotal counts countdowns rebuilt from the session record.
	TimerSelfHealTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consult_timer_self_heal_total",
		Help: "Total number of countdown entries reseeded by the timer worker.",
	})

	// TimerErrorsTotal counts per-session failures inside a tick, by stage.
	TimerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_timer_errors_total",
		Help: "Total number of per-session timer errors, by stage.",
	}, []string{"stage"})

	// SessionsCompletedTotal counts billed completions, by what triggered them.
	SessionsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_sessions_completed_total",
		Help: "Total number of completed sessions, by source.",
	}, []string{"source"})

	// ExtensionsTotal counts extension requests, by outcome.
	ExtensionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_extensions_total",
		Help: "Total number of extension requests, by result.",
	}, []string{"result"})

	// RecoveryReseededTotal counts countdowns rebuilt at startup, by kind.
	RecoveryReseededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_recovery_reseeded_total",
		Help: "Total number of countdown entries reseeded by crash recovery, by kind.",
	}, []string{"kind"})

	// ActiveSessions tracks sessions seen as active on the last tick.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "consult_active_sessions",
		Help: "Number of active sessions on the last timer tick.",
	})
)

// Completion sources.
const (
	SourceTimer  = "timer"
	SourceManual = "manual"
)

// Extension results.
const (
	ExtensionCredited    = "credited"
	ExtensionDuplicate   = "duplicate"
	ExtensionReactivated = "reactivated"
	ExtensionExpired     = "expired"
)

// Recovery kinds.
const (
	RecoveryRemaining   = "remaining"
	RecoveryPlaceholder = "placeholder"
)

func RecordTimerError(stage string) {
	TimerErrorsTotal.WithLabelValues(stage).Inc()
}

func RecordCompletion(source string) {
	SessionsCompletedTotal.WithLabelValues(source).Inc()
}

func RecordExtension(result string) {
	ExtensionsTotal.WithLabelValues(result).Inc()
}

func RecordRecovery(kind string) {
	RecoveryReseededTotal.WithLabelValues(kind).Inc()
}
