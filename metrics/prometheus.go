package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// GlobalRegistry is the process-wide Prometheus registry holding the
// collectors below. Per-transaction Metrics are not folded into it.
var GlobalRegistry *prometheus.Registry

func init() {
	ResetGlobalRegistry()
}

// ResetGlobalRegistry resets GlobalRegistry to a fresh instance. Tests that
// construct many coordinators need this to avoid "duplicate collector"
// registration panics.
func ResetGlobalRegistry() {
	GlobalRegistry = prometheus.NewRegistry()
	GlobalRegistry.MustRegister(prometheus.NewGoCollector())
}

var (
	commitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "metacoord_commit_phase_seconds",
		Help: "Duration of each commit phase (prepare, wait, apply, irreversible, finish).",
	}, []string{"phase"})

	renamesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metacoord_filesystem_renames_total",
		Help: "Number of directory/file renames issued by the filesystem orchestrator.",
	}, []string{"outcome"})

	undoTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metacoord_undo_tasks_total",
		Help: "Number of undo tasks executed, by kind.",
	}, []string{"kind"})
)

func init() {
	GlobalRegistry.MustRegister(commitDuration, renamesTotal, undoTasksTotal)
}

// ObserveCommitPhase records a phase duration in the global commit-phase
// histogram. No code in this module calls it.
func ObserveCommitPhase(phase string, nanos int64) {
	commitDuration.WithLabelValues(phase).Observe(float64(nanos) / 1e9)
}

// ObserveRename records the outcome of an async file rename.
func ObserveRename(outcome string) {
	renamesTotal.WithLabelValues(outcome).Inc()
}

// ObserveUndoTask records that an undo task of the given kind ran.
func ObserveUndoTask(kind string) {
	undoTasksTotal.WithLabelValues(kind).Inc()
}
